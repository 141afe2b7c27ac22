// Package xdcc is an automated IRC client for driving XDCC file-offering
// bots: it requests packlists and packs, accepts the resulting DCC
// transfers, and hands the files off to the working directory.
package xdcc

import (
	"net"
	"time"
)

const (
	ConnOpen  = 0
	ConnClose = 1
)

var StateMap = map[int]string{
	ConnOpen:  "open",
	ConnClose: "close",
}

// ReportStatsFn receives a connection snapshot on open and close events.
type ReportStatsFn func(c *Conn, state int)

// Conn wraps a net.Conn used for the IRC session or a DCC transfer and
// tracks its traffic. When a receive timeout is set, every Read is bounded
// by it.
type Conn struct {
	net.Conn
	reportStats  ReportStatsFn
	readTimeout  time.Duration
	OpenedAt     int64
	ClosedAt     int64
	FirstReadAt  int64
	FirstWriteAt int64
	SentBytes    int64
	RecvBytes    int64
	RecvErr      error
	SentErr      error
}

// WrapConn wraps ncon, triggers an immediate report in the open state, and
// returns the wrapped connection. Reads and writes are tracked and the
// final report is triggered on Close.
func WrapConn(ncon net.Conn, readTimeout time.Duration, reportStatsFn ReportStatsFn) *Conn {
	w := &Conn{
		Conn:        ncon,
		reportStats: reportStatsFn,
		readTimeout: readTimeout,
		OpenedAt:    time.Now().UnixNano(),
	}
	if w.reportStats != nil {
		w.reportStats(w, ConnOpen)
	}
	return w
}

// Close invokes the report callback with a close event before closing the
// connection.
func (w *Conn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	if w.reportStats != nil {
		w.reportStats(w, ConnClose)
	}
	return w.Conn.Close()
}

// Read wraps the underlying Read method and tracks the data. The receive
// timeout is re-armed before every read.
func (w *Conn) Read(b []byte) (int, error) {
	if w.readTimeout > 0 {
		if err := w.Conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := w.Conn.Read(b)
	if err == nil && w.RecvBytes == 0 && n > 0 {
		// Track the timestamp of the first successful read
		w.FirstReadAt = time.Now().UnixNano()
	}
	w.RecvBytes += int64(n)
	if err, ok := err.(net.Error); ok && !err.Timeout() {
		w.RecvErr = err
	}
	return n, err
}

// Write wraps the underlying Write method and tracks the data
func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if err == nil && w.SentBytes == 0 && n > 0 {
		// Track the timestamp of the first successful write
		w.FirstWriteAt = time.Now().UnixNano()
	}
	w.SentBytes += int64(n)
	if err, ok := err.(net.Error); ok && !err.Timeout() {
		w.SentErr = err
	}
	return n, err
}
