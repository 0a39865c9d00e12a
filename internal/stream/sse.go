// Package stream maintains the live event feed for each negotiation room:
// one server-sent-events connection per room, bounded exponential reconnect,
// and synchronous teardown on the terminal event.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one server-sent event: the optional "event:" field and the
// payload assembled from its "data:" lines.
type Frame struct {
	Event string
	Data  string
}

// Scanner reads server-sent events from a response body. Events are
// delimited by blank lines; multiple data lines within one event are joined
// with newlines. Comment lines (leading ":") and unknown fields are skipped.
type Scanner struct {
	r       *bufio.Reader
	current Frame
	err     error
}

// NewScanner wraps r for SSE framing.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next frame. It returns false at end of stream or on
// a read error; call Err to tell the two apart.
func (s *Scanner) Next() bool {
	s.current = Frame{}

	var dataLines []string
	var eventType string
	hasData := false

	for {
		line, err := s.r.ReadString('\n')

		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					// Unterminated final frame: emit it, then stop.
					s.current = Frame{Event: eventType, Data: strings.Join(dataLines, "\n")}
					s.err = io.EOF
					return true
				}
				return false
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				s.current = Frame{Event: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field, value = line, ""
		} else {
			// One leading space after the colon is part of the framing.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

// Frame returns the most recently scanned frame. Valid only after Next
// returned true.
func (s *Scanner) Frame() Frame {
	return s.current
}

// Err reports the first read error. A clean EOF is not an error.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
