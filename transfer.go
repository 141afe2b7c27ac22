package xdcc

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-xdcc/pkg/units"
	"github.com/simeonmiteff/go-xdcc/pkg/wire"
)

// Result is the terminal state of a handled offer.
type Result int

const (
	// Done means every offered byte reached the destination file.
	Done Result = iota
	// Skipped means the conflict policy kept an existing file.
	Skipped
	// Failed means the transfer dialed or streamed unsuccessfully; the
	// destination file may be incomplete.
	Failed
)

func (r Result) String() string {
	switch r {
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const (
	dccReadTimeout = 300 * time.Second
	dccDialTimeout = 30 * time.Second

	// dccChunk is the per-read payload size; one rate token buys one chunk.
	dccChunk = 4096

	// dialFailurePause keeps a refused-and-retried pack from turning into
	// a tight request storm.
	dialFailurePause = 3 * time.Second

	progressInterval = 500 * time.Millisecond
)

// Transfer receives one DCC offer into the session's download directory.
type Transfer struct {
	offer    *wire.Offer
	session  *Session
	md5Check bool
	log      *logrus.Entry
}

func newTransfer(offer *wire.Offer, s *Session, md5Check bool) *Transfer {
	return &Transfer{
		offer:    offer,
		session:  s,
		md5Check: md5Check,
		log: s.log.WithFields(logrus.Fields{
			"transfer": xid.New().String(),
			"bot":      offer.Sender,
			"file":     offer.Filename,
		}),
	}
}

// Run drives the transfer through dial, reconcile and write, returning its
// terminal state. The destination path is the offered filename inside the
// session's download directory.
func (t *Transfer) Run() Result {
	o := t.offer
	s := t.session

	nc, err := net.DialTimeout("tcp", o.Addr(), dccDialTimeout)
	if err != nil {
		t.log.WithError(err).Errorf("DCC dial to %s failed", o.Addr())
		s.Msg(o.Sender, "XDCC CANCEL")
		s.co.SetLastRequested(o.Sender, "")
		time.Sleep(dialFailurePause)
		return Failed
	}
	conn := WrapConn(nc, dccReadTimeout, s.cfg.Report)
	defer conn.Close()

	path := filepath.Join(s.dir, filepath.Base(o.Filename))

	fs := s.co.FS()
	fs.Lock()
	for fileExists(path) {
		if t.shouldOverwrite(path) {
			break
		}
		if t.shouldRename() {
			continue
		}
		fs.Unlock()
		t.log.Infof("%s already exists, closing socket", o.Filename)
		return Skipped
	}
	f, err := os.Create(path)
	if err != nil {
		fs.Unlock()
		t.log.WithError(err).Error("open destination failed")
		return Failed
	}
	fs.Unlock()
	defer f.Close()

	t.log.Infof("downloading %s [%s]", o.Filename, units.MustHuman(o.Size))

	if ok := t.write(conn, f); !ok {
		return Failed
	}
	t.log.Infof("transfer of %s complete", o.Filename)
	return Done
}

// write streams the payload until the offered size is reached. Each read
// is gated on the session's rate bucket when one is configured.
func (t *Transfer) write(conn *Conn, f *os.File) bool {
	var received int64
	buf := make([]byte, dccChunk)

	lastAt := time.Now()
	var lastBytes int64

	for received < t.offer.Size {
		if t.session.bucket != nil {
			if err := t.session.bucket.Acquire(); err != nil {
				t.log.WithError(err).Warn("rate bucket stopped mid-transfer")
				return false
			}
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				t.log.WithError(werr).Error("write failed")
				return false
			}
			received += int64(n)
		}
		if err != nil {
			if err == io.EOF && received == t.offer.Size {
				break
			}
			t.log.WithError(err).Warnf("DCC recv failed after %d bytes", received)
			return false
		}

		if dt := time.Since(lastAt); dt >= progressInterval {
			rate := float64(received-lastBytes) / dt.Seconds()
			var eta time.Duration
			if rate > 0 {
				eta = time.Duration(float64(t.offer.Size-received) / rate * float64(time.Second))
			}
			t.log.Debugf("%s/%s at %s/s, ETA %s",
				units.MustHuman(received), units.MustHuman(t.offer.Size),
				units.MustHuman(int64(rate)), eta.Round(time.Second))
			if t.session.progress != nil {
				t.session.progress(t.offer.Filename, received, t.offer.Size, rate, eta)
			}
			lastAt = time.Now()
			lastBytes = received
		}
	}
	return received == t.offer.Size
}

// shouldOverwrite decides whether an existing file at path gives way.
// Packlists (*.txt) are refreshed; with the md5 probe enabled, a same-size
// packlist is only replaced when the bot's advertised md5sum differs.
func (t *Transfer) shouldOverwrite(path string) bool {
	if !strings.HasSuffix(path, ".txt") {
		return false
	}
	if !t.md5Check {
		return true
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != t.offer.Size {
		return true
	}

	bot := t.offer.Sender
	co := t.session.co
	c := co.Cond(nsMD5, bot)
	c.L.Lock()
	t.session.Msg(bot, "XDCC INFO #1")
	c.Wait()
	c.L.Unlock()
	co.Take(nsMD5, bot)

	remote, ok := co.MD5(bot)
	if !ok {
		return true
	}
	local, err := fileMD5(path)
	if err != nil {
		return true
	}
	if local == remote {
		t.log.Info("md5sums are equal, not replacing")
		return false
	}
	return true
}

// shouldRename is a seam for interactive conflict handling; the automated
// client never renames.
func (t *Transfer) shouldRename() bool {
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
