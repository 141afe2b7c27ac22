package xdcc

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simeonmiteff/go-xdcc/pkg/wire"
)

func mustIP(s string) net.IP {
	return net.ParseIP(s)
}

func TestRelaySinkCapturesWithoutDialing(t *testing.T) {
	sink := NewRelaySink()
	offer := &wire.Offer{Sender: "Gin", Filename: "a.mkv", IP: mustIP("10.0.0.1"), Port: 4000, Size: 7}

	require.Equal(t, Done, sink.Handle(offer, nil))
	select {
	case got := <-sink.Offers():
		assert.Equal(t, offer, got)
	default:
		t.Fatal("offer not captured")
	}

	// Further offers never block: the next one is buffered, the rest are
	// dropped.
	done := make(chan struct{})
	go func() {
		sink.Handle(offer, nil)
		sink.Handle(offer, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Handle blocked")
	}
}

func TestBridgeResolvesOffer(t *testing.T) {
	var mu sync.Mutex
	nick := ""
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		switch {
		case strings.HasPrefix(line, "NICK "):
			// The bridge nick carries a random suffix; remember it.
			mu.Lock()
			nick = strings.TrimPrefix(line, "NICK ")
			mu.Unlock()
		case strings.HasPrefix(line, "USER "):
			mu.Lock()
			n := nick
			mu.Unlock()
			send(":irc.test 001 %s :Welcome to the Test Network %s", n, n)
		case strings.HasSuffix(line, ":XDCC SEND #175") && strings.HasPrefix(line, "PRIVMSG Ginpachi-Sensei "):
			mu.Lock()
			n := nick
			mu.Unlock()
			send(":Ginpachi-Sensei!b@h PRIVMSG %s :\x01DCC SEND \"[Gin] Title - 05.mkv\" 2130706433 40123 367001600\x01", n)
		}
	})
	host, port := fs.hostPort()

	bridge := &Bridge{
		Network:   host,
		Port:      port,
		NickBase:  "roughneck",
		OfferWait: 10 * time.Second,
		Logger:    quietLogger(),
	}
	srv := httptest.NewServer(bridge.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/Ginpachi-Sensei/175")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var desc struct {
		Filename string `json:"filename"`
		Hostname string `json:"hostname"`
		Port     int    `json:"port"`
		Filesize int64  `json:"filesize"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&desc))
	assert.Equal(t, "[Gin] Title - 05.mkv", desc.Filename)
	assert.Equal(t, "127.0.0.1", desc.Hostname)
	assert.Equal(t, 40123, desc.Port)
	assert.Equal(t, int64(367001600), desc.Filesize)
}

func TestBridgeTimesOutEmpty(t *testing.T) {
	fs := newFakeServer(t, func(_ int, line string, send func(string, ...interface{})) {
		if strings.HasPrefix(line, "USER ") {
			fields := strings.Fields(line)
			send(":irc.test 001 %s :Welcome to the Test Network %s", fields[1], fields[1])
		}
		// The bot never answers the request.
	})
	host, port := fs.hostPort()

	bridge := &Bridge{
		Network:   host,
		Port:      port,
		NickBase:  "roughneck",
		OfferWait: 200 * time.Millisecond,
		Logger:    quietLogger(),
	}
	srv := httptest.NewServer(bridge.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/Ginpachi-Sensei/175")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
}

func TestBridgeRejectsPackOutOfRange(t *testing.T) {
	bridge := &Bridge{Network: "irc.invalid", NickBase: "roughneck", Logger: quietLogger()}
	srv := httptest.NewServer(bridge.Router())
	defer srv.Close()

	for _, path := range []string{"/bot/0", "/bot/100001"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, "{}", string(body), "path=%s", path)
	}
}
