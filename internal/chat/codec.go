package chat

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// BufferSize is the capacity of every per-connection read and write
	// buffer, and therefore the largest frame that can be sent at once.
	BufferSize = 1024

	// QuitLine is the control line that ends a session.
	QuitLine = "quit"
)

// Encode returns the UTF-8 bytes of text. A frame that would not fit one
// write buffer is rejected.
func Encode(text string) ([]byte, error) {
	if len(text) > BufferSize {
		return nil, ErrLineTooLong
	}
	return []byte(text), nil
}

// Decode returns the text held in b. Invalid sequences become U+FFFD.
func Decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// Decoder decodes a byte stream chunk by chunk, holding back a rune that
// was split across two reads.
type Decoder struct {
	tail [utf8.UTFMax]byte
	n    int
}

// Decode returns the text of chunk, prefixed by any bytes held back from
// the previous call.
func (d *Decoder) Decode(chunk []byte) string {
	if d.n > 0 {
		joined := make([]byte, 0, d.n+len(chunk))
		joined = append(joined, d.tail[:d.n]...)
		chunk = append(joined, chunk...)
		d.n = 0
	}
	cut := completePrefix(chunk)
	d.n = copy(d.tail[:], chunk[cut:])
	return Decode(chunk[:cut])
}

// Flush returns whatever the decoder is still holding.
func (d *Decoder) Flush() string {
	s := Decode(d.tail[:d.n])
	d.n = 0
	return s
}

// completePrefix returns the length of b without a trailing rune that is
// incomplete but could still be completed by more input.
func completePrefix(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return len(b)
		}
		return start
	}
	return len(b)
}

// Label is the prefix the server puts in front of relayed lines.
func Label(id int) string {
	return "client[" + strconv.Itoa(id) + "]:"
}

// IsQuit reports whether line is the quit sentinel (exact match).
func IsQuit(line string) bool {
	return line == QuitLine
}

// Fit shortens line on a rune boundary so that prefix+line plus the
// newline terminator stays within limit bytes.
func Fit(prefix, line string, limit int) string {
	room := limit - len(prefix) - 1
	if room <= 0 {
		return ""
	}
	if len(line) <= room {
		return line
	}
	for room > 0 && !utf8.RuneStart(line[room]) {
		room--
	}
	return line[:room]
}

// SplitLines splits text on '\n', trimming a trailing '\r' from each line.
// rest is the unterminated remainder, possibly empty.
func SplitLines(text string) (lines []string, rest string) {
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			return lines, text
		}
		lines = append(lines, strings.TrimRight(text[:i], "\r"))
		text = text[i+1:]
	}
}
