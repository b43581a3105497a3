package main

import (
	"bufio"
	"unicode/utf8"
)

// Key is one decoded keypress. Name is empty for printable text.
type Key struct {
	Name string
	Text string
}

// readKey decodes the next keypress from a raw-mode terminal.
func readKey(r *bufio.Reader) (Key, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Key{}, err
	}

	switch {
	case b == 9:
		return Key{Name: "tab"}, nil
	case b == 13 || b == 10:
		return Key{Name: "enter"}, nil
	case b == 127 || b == 8:
		return Key{Name: "backspace"}, nil
	case b == 27:
		return readEscape(r)
	case b < 32:
		return Key{Name: "ctrl+" + string(rune('a'+b-1))}, nil
	}

	if b < utf8.RuneSelf {
		return Key{Text: string(rune(b))}, nil
	}
	if err := r.UnreadByte(); err != nil {
		return Key{}, err
	}
	ch, _, err := r.ReadRune()
	if err != nil {
		return Key{}, err
	}
	return Key{Text: string(ch)}, nil
}

// readEscape decodes the CSI sequence following an ESC byte. A lone ESC is
// reported as "esc".
func readEscape(r *bufio.Reader) (Key, error) {
	if r.Buffered() == 0 {
		return Key{Name: "esc"}, nil
	}
	b, err := r.ReadByte()
	if err != nil {
		return Key{}, err
	}
	if b != '[' && b != 'O' {
		return Key{Name: "esc"}, nil
	}

	var param []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return Key{}, err
		}
		if c >= '0' && c <= '9' || c == ';' {
			param = append(param, c)
			continue
		}
		switch c {
		case 'A':
			return Key{Name: "up"}, nil
		case 'B':
			return Key{Name: "down"}, nil
		case 'C':
			return Key{Name: "right"}, nil
		case 'D':
			return Key{Name: "left"}, nil
		case 'H':
			return Key{Name: "home"}, nil
		case 'F':
			return Key{Name: "end"}, nil
		case 'Z':
			return Key{Name: "shift+tab"}, nil
		case '~':
			switch string(param) {
			case "1", "7":
				return Key{Name: "home"}, nil
			case "3":
				return Key{Name: "delete"}, nil
			case "4", "8":
				return Key{Name: "end"}, nil
			}
		}
		return Key{Name: "unknown"}, nil
	}
}
