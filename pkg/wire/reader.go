// Package wire implements the read side of the multichat byte stream: a
// single cursor that alternates between newline-delimited command lines and
// raw binary payloads of a previously announced length.
package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrShortPayload is returned when the stream ends before an announced
// binary payload has been fully received. Unlike EOF between commands, this
// leaves the stream in an unrecoverable state.
var ErrShortPayload = errors.New("stream ended mid binary payload")

// Reader multiplexes delimited text and raw binary reads over one
// underlying stream. Both modes consume from the same buffered cursor, so
// bytes buffered ahead of a command line are never re-tokenized or lost
// when the caller switches to binary mode.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r. The caller must not read from r directly afterwards.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadLine returns the next line with its trailing \n (and optional \r)
// stripped. A final line missing its newline at stream end is still
// returned as a valid line; io.EOF is only reported once no bytes remain.
func (r *Reader) ReadLine() (string, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return trimEOL(line), nil
		}
		return "", err
	}
	return trimEOL(line), nil
}

// ReadFull consumes exactly n raw bytes from the cursor, across as many
// partial reads as the transport requires. Reaching end of stream first
// yields ErrShortPayload.
func (r *Reader) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortPayload
		}
		return nil, err
	}
	return buf, nil
}

func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
