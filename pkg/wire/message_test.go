package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Message
	}{
		{
			name: "ping",
			line: "PING :irc.rizon.net",
			want: Message{Command: "PING", Trailing: "irc.rizon.net"},
		},
		{
			name: "welcome numeric",
			line: ":irc.rizon.net 001 roughneck :Welcome to the Rizon Internet Relay Chat Network roughneck",
			want: Message{
				Prefix:   "irc.rizon.net",
				Command:  "001",
				Params:   []string{"roughneck"},
				Trailing: "Welcome to the Rizon Internet Relay Chat Network roughneck",
			},
		},
		{
			name: "privmsg with full prefix",
			line: ":Gin!~gin@bots.rizon.net PRIVMSG roughneck :hello there",
			want: Message{
				Prefix:   "Gin!~gin@bots.rizon.net",
				Nick:     "Gin",
				User:     "~gin",
				Host:     "bots.rizon.net",
				Command:  "PRIVMSG",
				Params:   []string{"roughneck"},
				Trailing: "hello there",
			},
		},
		{
			name: "join echo",
			line: ":roughneck!~roughneck@ip.example JOIN :#nibl",
			want: Message{
				Prefix:   "roughneck!~roughneck@ip.example",
				Nick:     "roughneck",
				User:     "~roughneck",
				Host:     "ip.example",
				Command:  "JOIN",
				Trailing: "#nibl",
			},
		},
		{
			name: "error closing link",
			line: "ERROR :Closing Link: example (Quit)",
			want: Message{Command: "ERROR", Trailing: "Closing Link: example (Quit)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, line := range []string{"", ":prefixonly", "   "} {
		_, err := Parse(line)
		require.ErrorIs(t, err, ErrMalformed, "line=%q", line)
	}
}

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		{Command: "PING", Trailing: "server"},
		{Command: "PRIVMSG", Params: []string{"bot"}, Trailing: "XDCC SEND #1"},
		{Prefix: "n!u@h", Nick: "n", User: "u", Host: "h", Command: "NOTICE", Params: []string{"me"}, Trailing: "md5sum abc123"},
		{Command: "JOIN", Params: []string{"#chan"}},
	}
	for _, m := range msgs {
		got, err := Parse(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, *got, "wire=%q", m.String())
	}
}
