package xdcc

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineHandler reacts to one inbound line on connection number conn (counted
// from zero across reconnects). send writes a CRLF-terminated line back.
type lineHandler func(conn int, line string, send func(format string, args ...interface{}))

// fakeServer is a scriptable IRC server for exercising the session engine.
type fakeServer struct {
	t  *testing.T
	ln net.Listener

	mu    sync.Mutex
	conns int
	seen  []string
}

func newFakeServer(t *testing.T, handle lineHandler) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fs := &fakeServer{t: t, ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fs.mu.Lock()
			id := fs.conns
			fs.conns++
			fs.mu.Unlock()
			go fs.serve(conn, id, handle)
		}
	}()
	return fs
}

func (fs *fakeServer) serve(conn net.Conn, id int, handle lineHandler) {
	send := func(format string, args ...interface{}) {
		fmt.Fprintf(conn, format+"\r\n", args...)
	}
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		fs.mu.Lock()
		fs.seen = append(fs.seen, line)
		fs.mu.Unlock()
		handle(id, line, send)
	}
	conn.Close()
}

func (fs *fakeServer) hostPort() (string, int) {
	addr := fs.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (fs *fakeServer) sawLine(want string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, line := range fs.seen {
		if strings.Contains(line, want) {
			return true
		}
	}
	return false
}

func (fs *fakeServer) connCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.conns
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func welcome(nick string) string {
	return fmt.Sprintf(":irc.test 001 %s :Welcome to the Test Network %s", nick, nick)
}

func dialFake(t *testing.T, fs *fakeServer, cfg Config) *Session {
	t.Helper()
	cfg.Host, cfg.Port = fs.hostPort()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	s, err := Dial(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)
	return s
}

func TestDialHandshake(t *testing.T) {
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		if strings.HasPrefix(line, "USER ") {
			send(welcome("tester"))
		}
	})
	s := dialFake(t, fs, Config{Nick: "tester"})
	assert.Equal(t, "tester", s.Nick())
	assert.True(t, fs.sawLine("NICK tester"))
	assert.True(t, fs.sawLine("USER tester"))
}

func TestPingPong(t *testing.T) {
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		switch {
		case strings.HasPrefix(line, "USER "):
			send(welcome("tester"))
			send("PING :irc.test-token")
		}
	})
	dialFake(t, fs, Config{Nick: "tester"})
	require.Eventually(t, func() bool {
		return fs.sawLine("PONG :irc.test-token")
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPingSettlesHandshake(t *testing.T) {
	// No welcome line at all: a PING during the handshake window is
	// enough to consider the connection up.
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		if strings.HasPrefix(line, "USER ") {
			send("PING :early")
		}
	})
	s := dialFake(t, fs, Config{Nick: "tester"})
	assert.Equal(t, "tester", s.Nick())
}

func TestNickCollisionGrowsUnderscore(t *testing.T) {
	fs := newFakeServer(t, func(conn int, line string, send func(string, ...interface{})) {
		if !strings.HasPrefix(line, "USER ") {
			return
		}
		// Reject the first two registrations, welcome the third.
		if conn < 2 {
			send(":irc.test 433 * tester :Nickname is already in use.")
			return
		}
		send(welcome("tester__"))
	})
	s := dialFake(t, fs, Config{Nick: "tester"})
	assert.Equal(t, "tester__", s.Nick())
	assert.GreaterOrEqual(t, fs.connCount(), 3)
	assert.True(t, fs.sawLine("NICK tester__"))
}

func TestVersionReply(t *testing.T) {
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		if strings.HasPrefix(line, "USER ") {
			send(welcome("tester"))
			send(":probe!p@h PRIVMSG tester :\x01VERSION\x01")
		}
	})
	dialFake(t, fs, Config{Nick: "tester"})
	require.Eventually(t, func() bool {
		return fs.sawLine("NOTICE probe :\x01VERSION irc.py\x01")
	}, 3*time.Second, 10*time.Millisecond)
}

func TestJoinWaitsForEcho(t *testing.T) {
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		switch {
		case strings.HasPrefix(line, "USER "):
			send(welcome("tester"))
		case line == "JOIN #nibl":
			send(":tester!~tester@ip.test JOIN :#nibl")
		}
	})
	s := dialFake(t, fs, Config{Nick: "tester"})

	done := make(chan struct{})
	go func() {
		s.Join("#NIBL")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Join did not observe the echo")
	}
}

func TestReconnectOnServerClose(t *testing.T) {
	fs := newFakeServer(t, func(conn int, line string, send func(string, ...interface{})) {
		if strings.HasPrefix(line, "USER ") {
			send(welcome("tester"))
		}
	})
	s := dialFake(t, fs, Config{Nick: "tester"})

	// Drop the live connection out from under the session.
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	conn.Conn.Close()

	require.Eventually(t, func() bool {
		return fs.connCount() >= 2
	}, 10*time.Second, 50*time.Millisecond)
}
