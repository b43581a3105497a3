package main

import (
	"io"
	"time"

	"github.com/BurntSushi/toml"
)

// sessionInfo is written once when the log starts.
type sessionInfo struct {
	Started time.Time `toml:"started"`
	File    string    `toml:"file"`
	Fetcher string    `toml:"fetcher"`
}

// acceptedEntry records one accepted suggestion.
type acceptedEntry struct {
	Time       time.Time `toml:"time"`
	File       string    `toml:"file"`
	Line       int       `toml:"line"`
	Suggestion string    `toml:"suggestion"`
}

// sessionLog appends TOML records to w. The concatenated output is a single
// valid TOML document: one [session] table followed by [[accepted]] entries.
type sessionLog struct {
	w io.Writer
}

func newSessionLog(w io.Writer, info sessionInfo) (*sessionLog, error) {
	l := &sessionLog{w: w}
	err := toml.NewEncoder(w).Encode(struct {
		Session sessionInfo `toml:"session"`
	}{info})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Accepted appends e.
func (l *sessionLog) Accepted(e acceptedEntry) error {
	if _, err := io.WriteString(l.w, "\n"); err != nil {
		return err
	}
	return toml.NewEncoder(l.w).Encode(struct {
		Accepted []acceptedEntry `toml:"accepted"`
	}{[]acceptedEntry{e}})
}
