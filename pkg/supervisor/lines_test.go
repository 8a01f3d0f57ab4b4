package supervisor

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func scanAll(t *testing.T, sc *bufio.Scanner) []string {
	t.Helper()
	var out []string
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}

func TestScanLines_Terminators(t *testing.T) {
	sc := newLineScanner(strings.NewReader("a\rb\nc\r\nd\n\ne"), nil)
	require.Equal(t, []string{"a", "b", "c", "d", "", "e"}, scanAll(t, sc))
}

func TestScanLines_TrailingCR(t *testing.T) {
	sc := newLineScanner(strings.NewReader("a\r"), nil)
	require.Equal(t, []string{"a"}, scanAll(t, sc))
}

func TestScanLines_WaitsForByteAfterCR(t *testing.T) {
	adv, tok, err := ScanLines([]byte("abc\r"), false)
	require.NoError(t, err)
	require.Zero(t, adv)
	require.Nil(t, tok)

	adv, tok, err = ScanLines([]byte("abc\r\nx"), false)
	require.NoError(t, err)
	require.Equal(t, 5, adv)
	require.Equal(t, "abc", string(tok))
}

func TestScanLines_OverlongLineIsChunked(t *testing.T) {
	long := bytes.Repeat([]byte("y"), MaxLineLength+10)
	sc := newLineScanner(bytes.NewReader(append(long, '\n')), nil)
	got := scanAll(t, sc)
	require.Len(t, got, 2)
	require.Len(t, got[0], MaxLineLength)
	require.Len(t, got[1], 10)
}

func TestNewLineScanner_DecodesLegacyCodepage(t *testing.T) {
	sc := newLineScanner(bytes.NewReader([]byte{'c', 'a', 'f', 0xE9, '\n'}), charmap.Windows1252)
	require.Equal(t, []string{"café"}, scanAll(t, sc))
}

func TestLookupEncoding(t *testing.T) {
	enc, err := LookupEncoding("")
	require.NoError(t, err)
	require.Nil(t, enc)

	enc, err = LookupEncoding("UTF-8")
	require.NoError(t, err)
	require.Nil(t, enc)

	enc, err = LookupEncoding("windows-1252")
	require.NoError(t, err)
	require.NotNil(t, enc)

	_, err = LookupEncoding("definitely-not-a-charset")
	require.Error(t, err)
}

func TestOutputLine_String(t *testing.T) {
	require.Equal(t, "stderr: ERROR: boom", OutputLine{Stream: Stderr, Text: "ERROR: boom"}.String())
}
