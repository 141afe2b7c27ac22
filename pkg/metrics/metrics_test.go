package metrics

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xdcc "github.com/simeonmiteff/go-xdcc"
)

func loopbackConn(t *testing.T) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			conn.Close()
		default:
		}
	})
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnCollector(t *testing.T) {
	collector := NewConnCollector("test_conn", []string{"id"}, nil)

	conn := xdcc.WrapConn(loopbackConn(t), 0, nil)
	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)

	collector.Add(conn, []string{"c1"})
	assert.Equal(t, 3, testutil.CollectAndCount(collector))

	collector.Remove(conn)
	assert.Equal(t, 0, testutil.CollectAndCount(collector))
}
