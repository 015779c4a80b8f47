package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// Messages are newline-terminated lines in both directions.

const ShutdownNotice = "Server is shutting down. Goodbye!"

func joinAnnouncement(name string) string {
	return "📢 " + name + " has joined the chat."
}

func leaveAnnouncement(name string) string {
	return "💔 " + name + " has left the chat."
}

// envelope formats a relayed chat line as "[HH:MM:SS] name: text".
func envelope(at time.Time, name, text string) string {
	return "[" + at.Format(time.TimeOnly) + "] " + name + ": " + text
}

// readLine returns the next line without its terminator. Only the first
// limit bytes are kept; the rest of an overlong line is read and dropped, so
// memory stays bounded by the reader's buffer.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var kept []byte
	for {
		frag, err := r.ReadSlice('\n')
		// One byte past the limit lets truncate find a rune boundary.
		if room := limit + 1 - len(kept); room > 0 {
			kept = append(kept, frag[:min(room, len(frag))]...)
		}
		switch {
		case err == nil:
			return finishLine(kept, limit), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF && len(kept) > 0:
			// last line without newline
			return finishLine(kept, limit), nil
		case err == io.EOF:
			return "", io.EOF
		default:
			return "", fmt.Errorf("read: %w", err)
		}
	}
}

func finishLine(kept []byte, limit int) string {
	return truncate(strings.TrimRight(string(kept), "\r\n"), limit)
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
