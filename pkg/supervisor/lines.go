package supervisor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// MaxLineLength caps a single emitted line. Longer runs without a terminator
// are emitted in MaxLineLength chunks instead of failing the scan.
const MaxLineLength = 1 << 20

// Stream identifies which pipe a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// OutputLine is one line of child output with its terminator stripped.
type OutputLine struct {
	Stream Stream
	Text   string
}

func (l OutputLine) String() string {
	return string(l.Stream) + ": " + l.Text
}

// ScanLines is a bufio.SplitFunc that treats "\n", "\r\n" and a bare "\r" as
// line terminators. yt-dlp redraws its progress line with "\r" unless
// --newline is honoured, so both have to be handled. Empty lines are kept.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		// '\r': need one more byte to tell CRLF from a bare CR.
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF || len(data) >= MaxLineLength {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}

	if atEOF {
		return len(data), data, nil
	}
	if len(data) >= MaxLineLength {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func newLineScanner(r io.Reader, enc encoding.Encoding) *bufio.Scanner {
	if enc != nil {
		r = transform.NewReader(r, enc.NewDecoder())
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
	sc.Split(ScanLines)
	return sc
}

// LookupEncoding resolves an IANA charset name ("windows-1252", "cp866",
// "shift_jis"). An empty name or UTF-8 returns nil, meaning no decoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	n := strings.TrimSpace(name)
	if n == "" || strings.EqualFold(n, "utf-8") || strings.EqualFold(n, "utf8") {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(n)
	if err != nil {
		return nil, fmt.Errorf("supervisor: unknown output encoding %q: %w", n, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("supervisor: unsupported output encoding %q", n)
	}
	return enc, nil
}
