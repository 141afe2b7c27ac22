// Package wire implements IRC line framing, message parsing, and the
// CTCP payloads XDCC bots speak.
package wire

import "bytes"

var crlf = []byte("\r\n")

// Framer accumulates raw socket bytes and splits them into protocol lines.
// A trailing partial line is retained until the next Push completes it.
type Framer struct {
	buf []byte
}

// Push appends chunk and returns every line completed by it, without the
// CRLF terminator. Incomplete input produces no lines.
func (f *Framer) Push(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)
	var lines []string
	for {
		i := bytes.Index(f.buf, crlf)
		if i < 0 {
			return lines
		}
		lines = append(lines, string(f.buf[:i]))
		f.buf = f.buf[i+len(crlf):]
	}
}

// Residual returns the buffered partial line.
func (f *Framer) Residual() []byte {
	return f.buf
}
