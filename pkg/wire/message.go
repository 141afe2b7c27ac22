package wire

import (
	"strings"

	"github.com/pkg/errors"
)

// IRC commands this client reacts to or emits.
const (
	CmdError   = "ERROR"
	CmdJoin    = "JOIN"
	CmdNick    = "NICK"
	CmdNotice  = "NOTICE"
	CmdPing    = "PING"
	CmdPong    = "PONG"
	CmdPrivmsg = "PRIVMSG"
	CmdUser    = "USER"
)

// ErrMalformed is returned for lines that do not fit the IRC grammar.
var ErrMalformed = errors.New("wire: malformed message")

// Message is one parsed IRC line:
//
//	[":" prefix SP] command [SP params] [SP ":" trailing]
//
// Nick, User and Host are filled when the prefix has the nick!user@host form.
type Message struct {
	Prefix   string
	Nick     string
	User     string
	Host     string
	Command  string
	Params   []string
	Trailing string
}

// Parse splits line into its message fields. The line must not carry its
// CRLF terminator.
func Parse(line string) (*Message, error) {
	m := &Message{}
	rest := line

	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, errors.Wrap(ErrMalformed, "prefix without command")
		}
		m.Prefix = rest[1:sp]
		rest = rest[sp+1:]

		if bang := strings.IndexByte(m.Prefix, '!'); bang >= 0 {
			m.Nick = m.Prefix[:bang]
			userhost := m.Prefix[bang+1:]
			if at := strings.IndexByte(userhost, '@'); at >= 0 {
				m.User = userhost[:at]
				m.Host = userhost[at+1:]
			} else {
				m.User = userhost
			}
		}
	}

	if i := strings.Index(rest, " :"); i >= 0 {
		m.Trailing = rest[i+2:]
		rest = rest[:i]
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrMalformed, "missing command")
	}
	m.Command = fields[0]
	if len(fields) > 1 {
		m.Params = fields[1:]
	}
	return m, nil
}

// String renders the message back to its wire form, without CRLF.
func (m *Message) String() string {
	var b strings.Builder
	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}
	b.WriteString(m.Command)
	for _, p := range m.Params {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	if m.Trailing != "" {
		b.WriteString(" :")
		b.WriteString(m.Trailing)
	}
	return b.String()
}

// Param returns the i-th parameter or "".
func (m *Message) Param(i int) string {
	if i < len(m.Params) {
		return m.Params[i]
	}
	return ""
}
