// Command ghostline-repl is a terminal editor for trying ghostline
// suggestions end to end. Suggestions appear as faint ghost text after the
// cursor; Tab accepts, Ctrl-G toggles suggestions, Ctrl-D quits.
//
// Usage:
//
//	./ghostline-repl main.go                 # edit main.go, suggestions from ghostlined
//	./ghostline-repl --local main.go         # run the completion engine in process
//	./ghostline-repl main.go > session.toml  # log accepted suggestions as TOML
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/fetch"
	"github.com/Paranoid-AF/ghostline/generate"
	"github.com/Paranoid-AF/ghostline/loop"
	"github.com/Paranoid-AF/ghostline/suggest"
	"github.com/Paranoid-AF/ghostline/toggle"
)

func main() {
	cmd := &cli.Command{
		Name:      "ghostline-repl",
		Usage:     "Edit a file with inline AI suggestions",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "local",
				Usage: "run the completion engine in process instead of calling ghostlined",
			},
			&cli.StringFlag{
				Name:    "service",
				Usage:   "completion service URL (unix:///path.sock or http://host:port)",
				Sources: cli.EnvVars("GHOSTLINE_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:  "log",
				Value: filepath.Join(os.TempDir(), "ghostline-repl.log"),
				Usage: "write logs to this file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "log at debug level",
				Sources: cli.EnvVars("GHOSTLINE_VERBOSE"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// The terminal belongs to the editor; logs go to a file.
	logFile, err := os.OpenFile(cmd.String("log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		logger.Warn("failed to load config, using defaults", "error", err)
		cfg = ghostline.DefaultConfig()
	}

	path := cmd.Args().First()
	text, err := readDocument(path)
	if err != nil {
		return err
	}

	tog, err := toggle.Open(ghostline.StatePath(), ghostline.SuggestionsEnabled(cfg))
	if err != nil {
		logger.Warn("failed to read suggestion state, using config default", "error", err)
		tog = toggle.New(ghostline.SuggestionsEnabled(cfg))
	}
	defer tog.Close()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if err := tog.Watch(watchCtx); err != nil {
		logger.Debug("not watching suggestion state", "error", err)
	}

	// Screen output goes to /dev/tty so stdout can carry the session log.
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open /dev/tty: %w", err)
	}
	defer tty.Close()

	var log *sessionLog
	mode := "service"
	if cmd.Bool("local") {
		mode = "local"
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		log, err = newSessionLog(os.Stdout, sessionInfo{Started: time.Now(), File: path, Fetcher: mode})
		if err != nil {
			return fmt.Errorf("session log: %w", err)
		}
	}

	l := loop.New()
	defer l.Close()

	ed := NewEditor(l, text, path, tog, log, logger)
	fetchOpts := []fetch.Option{
		fetch.WithTimeout(ghostline.RequestTimeout(cfg)),
		fetch.WithNotifier(fetch.NotifierFunc(ed.Notify)),
		fetch.WithLogger(logger),
	}

	var fetcher suggest.Fetcher
	if cmd.Bool("local") {
		engine := generate.NewEngineWithConfig(cfg)
		defer engine.Close()
		fetcher = fetch.NewLocal(engine, fetchOpts...)
	} else {
		serviceURL := cmd.String("service")
		if serviceURL == "" {
			serviceURL = ghostline.ResolveServiceURL(cfg)
		}
		client, err := fetch.NewClient(serviceURL, fetchOpts...)
		if err != nil {
			return err
		}
		fetcher = client
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() {
		term.Restore(int(tty.Fd()), old)
		fmt.Fprint(tty, "\x1b[2J\x1b[H")
	}()

	scr := newScreen(tty)
	title := "ghostline"
	if path != "" {
		title += " - " + path
	}
	l.Do(func() {
		ed.draw = func(e *Editor) {
			scr.draw(title, e.Text(), e.Cursor(), e.view.Decorations(), e.StatusLine())
		}
		ed.Attach(suggest.Options{
			FileName:     path,
			Fetcher:      fetcher,
			Debounce:     ghostline.DebounceInterval(cfg),
			ContextLines: ghostline.ContextLines(cfg),
			AcceptKey:    cfg.Editor.AcceptKey,
			Logger:       logger,
		})
	})
	defer l.Do(ed.Close)

	r := bufio.NewReader(tty)
	for {
		k, err := readKey(r)
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		quit := false
		if !l.Do(func() { quit = ed.HandleKey(k) }) || quit {
			return nil
		}
	}
}

// readDocument returns the contents of path, or "" for a new or unnamed file.
func readDocument(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
