package main

import (
	"fmt"
	"strings"
	"time"
)

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatPrice renders a dollar amount the way the backend quotes them.
func formatPrice(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// splitRooms parses a comma-separated room list, dropping empty entries.
func splitRooms(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	rooms := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			rooms = append(rooms, p)
		}
	}
	return rooms
}

// newSessionID builds a timestamped id for sessions started from the CLI.
func newSessionID() string {
	return "sess-" + time.Now().UTC().Format("20060102-150405")
}
