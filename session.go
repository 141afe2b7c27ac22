package xdcc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-xdcc/pkg/ratelimit"
	"github.com/simeonmiteff/go-xdcc/pkg/wire"
)

const (
	// DefaultPort is the plaintext IRC port.
	DefaultPort = 6667

	ircReadTimeout = 300 * time.Second
	dialTimeout    = 30 * time.Second
	reconnectDelay = 3 * time.Second

	// readChunk sizes listener reads; lines are reassembled by the framer
	// so the value is not contractual.
	readChunk = 512
)

// ErrClosed is returned for operations on a disconnected session.
var ErrClosed = errors.New("xdcc: session closed")

// ProgressFunc receives transfer progress: bytes received so far, the
// offered size, the instantaneous rate in bytes/s, and the estimated time
// remaining.
type ProgressFunc func(filename string, received, total int64, rate float64, eta time.Duration)

// Config describes a session. Host and Nick are required.
type Config struct {
	Host     string
	Port     int    // default 6667
	Nick     string
	Ident    string // default Nick
	Realname string // default Nick
	Dir      string // download directory, default "."

	// RateKiB caps the average DCC payload rate in KiB/s; 0 is unlimited.
	RateKiB float64

	// MD5Check enables the md5 probe before overwriting an existing
	// packlist of matching size.
	MD5Check bool

	// Offers replaces the default downloading offer handler.
	Offers OfferHandler

	// Progress, when set, receives transfer progress samples.
	Progress ProgressFunc

	// Report, when set, receives open/close snapshots of every
	// connection the session creates.
	Report ReportStatsFn

	Logger *logrus.Logger
}

// connectGate arbitrates one connection attempt: the dispatcher settles it
// from the welcome line, a handshake PING, a Closing Link error, or a nick
// collision.
type connectGate struct {
	once   sync.Once
	done   chan struct{}
	unable bool
}

func newConnectGate() *connectGate {
	return &connectGate{done: make(chan struct{})}
}

func (g *connectGate) settle(unable bool) {
	g.once.Do(func() {
		g.unable = unable
		close(g.done)
	})
}

func (g *connectGate) wait() bool {
	<-g.done
	return g.unable
}

func (g *connectGate) pending() bool {
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Session is one IRC connection with its listener, dispatcher and
// coordinator. Pollers and transfers hang off it.
type Session struct {
	cfg      Config
	co       *Coordinator
	bucket   *ratelimit.Bucket
	offers   OfferHandler
	progress ProgressFunc
	dir      string
	log      *logrus.Entry

	mu     sync.Mutex
	nick   string
	conn   *Conn
	gen    int
	closed bool
}

// Dial opens a session per cfg, blocking until the server accepts the
// registration (growing the nick past collisions on the way).
func Dial(cfg Config) (*Session, error) {
	if cfg.Host == "" || cfg.Nick == "" {
		return nil, errors.New("xdcc: config needs Host and Nick")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Ident == "" {
		cfg.Ident = cfg.Nick
	}
	if cfg.Realname == "" {
		cfg.Realname = cfg.Nick
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &Session{
		cfg:      cfg,
		co:       NewCoordinator(),
		offers:   cfg.Offers,
		progress: cfg.Progress,
		dir:      cfg.Dir,
		nick:     cfg.Nick,
		log:      logger.WithFields(logrus.Fields{"host": cfg.Host, "nick": cfg.Nick}),
	}
	if s.offers == nil {
		s.offers = &Downloader{MD5Check: cfg.MD5Check}
	}
	if cfg.RateKiB > 0 {
		s.bucket = ratelimit.FromRate(cfg.RateKiB)
	}

	if err := s.connect(0); err != nil {
		return nil, err
	}
	return s, nil
}

// Coordinator exposes the session's synchronization registry.
func (s *Session) Coordinator() *Coordinator {
	return s.co
}

// Nick returns the nick currently in use, including any underscores grown
// from collisions.
func (s *Session) Nick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

func (s *Session) growNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nick += "_"
	return s.nick
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// connect dials until registered. Redials are paced with capped
// exponential backoff; nick collisions and Closing Link errors re-enter
// the loop after the dispatcher has adjusted state.
func (s *Session) connect(delay time.Duration) error {
	if delay > 0 {
		time.Sleep(delay)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	for {
		if s.isClosed() {
			return ErrClosed
		}
		err := s.connectOnce()
		if err == nil {
			return nil
		}
		wait := bo.NextBackOff()
		s.log.WithError(err).Warnf("connect failed, retrying in %s", wait.Round(time.Millisecond))
		time.Sleep(wait)
	}
}

func (s *Session) connectOnce() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	nc, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	conn := WrapConn(nc, ircReadTimeout, s.cfg.Report)

	s.mu.Lock()
	s.conn = conn
	s.gen++
	gen := s.gen
	nick := s.nick
	s.mu.Unlock()

	gate := newConnectGate()
	if err := s.send("NICK " + nick + "\r\n"); err != nil {
		conn.Close()
		return errors.Wrap(err, "register")
	}
	if err := s.send(fmt.Sprintf("USER %s %s * :%s\r\n", s.cfg.Ident, s.cfg.Host, s.cfg.Realname)); err != nil {
		conn.Close()
		return errors.Wrap(err, "register")
	}

	go s.listen(conn, gen, gate)

	if unable := gate.wait(); unable {
		conn.Close()
		return errors.Errorf("registration as %s refused", nick)
	}
	s.log.Infof("connected to %s as %s", s.cfg.Host, s.Nick())
	return nil
}

// listen is the per-connection read loop: it frames lines and dispatches
// each on its own goroutine so a joined download never holds up parsing.
func (s *Session) listen(conn *Conn, gen int, gate *connectGate) {
	var framer wire.Framer
	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				go s.dispatch(line, gate)
			}
		}
		if err != nil {
			conn.Close()
			if gate.pending() {
				gate.settle(true)
				return
			}
			if gate.unable {
				// Registration failed; the connect loop owns the redial.
				return
			}
			if s.current(gen) {
				s.log.WithError(err).Warn("connection lost, reconnecting")
				_ = s.connect(reconnectDelay)
			}
			return
		}
	}
}

func (s *Session) current(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !s.closed
}

func (s *Session) send(line string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}
	_, err := conn.Write([]byte(line))
	return errors.Wrap(err, "send")
}

// catchSend attempts to send; a socket failure triggers a reconnect.
func (s *Session) catchSend(line string) {
	if err := s.send(line); err != nil && !s.isClosed() {
		s.log.WithError(err).Warn("send failed, reconnecting")
		_ = s.connect(0)
	}
}

// Msg sends a PRIVMSG to who.
func (s *Session) Msg(who, text string) {
	s.catchSend("PRIVMSG " + who + " :" + text + "\r\n")
}

// Notice sends a CTCP-wrapped NOTICE to who.
func (s *Session) Notice(who, text string) {
	s.catchSend("NOTICE " + who + " :\x01" + text + "\x01\r\n")
}

// Join enters #channel and blocks until the server echoes the join.
func (s *Session) Join(channel string) {
	name := strings.ToLower(strings.ReplaceAll(channel, "#", ""))
	c := s.co.Cond(nsJoin, name)
	c.L.Lock()
	s.catchSend("JOIN #" + name + "\r\n")
	c.Wait()
	c.L.Unlock()
	s.co.Take(nsJoin, name)
	s.log.Infof("joined channel #%s", name)
}

// Disconnect marks the session dead and closes the socket. The listener
// observes the closed connection and exits without reconnecting.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if s.bucket != nil {
		s.bucket.Stop()
	}
	s.log.Info("disconnected")
}
