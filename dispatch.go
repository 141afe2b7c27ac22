package xdcc

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-xdcc/pkg/wire"
)

// versionBanner is the CTCP VERSION reply, kept from the tool this client
// descends from.
const versionBanner = "VERSION irc.py"

const nickInUseNotice = "Nickname is already in use."

var (
	md5Re   = regexp.MustCompile(` *md5sum +([a-f0-9]+)`)
	queueRe = regexp.MustCompile(`\*\* You can only have .* queue for`)

	// cancelAckNotices acknowledge an XDCC CANCEL.
	cancelAckNotices = []string{
		"don't have a transfer",
		"Transfer canceled by user",
	}

	// refusalNotices are bot replies that decline an XDCC SEND outright.
	refusalNotices = []string{
		"XDCC SEND denied",
		"Invalid Pack Number",
		"You already requested",
	}
)

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// dispatch handles one framed line. It runs on its own goroutine: a DCC
// offer is downloaded to completion here before any waiter is woken, and
// that must not stall the listener.
func (s *Session) dispatch(line string, gate *connectGate) {
	s.log.WithField("line", line).Debug("recv")

	msg, err := wire.Parse(line)
	if err != nil {
		s.log.WithField("line", line).Debug("dropping unparseable line")
		return
	}

	nick := s.Nick()
	switch msg.Command {
	case wire.CmdError:
		if strings.HasPrefix(msg.Trailing, "Closing Link") {
			s.log.Warnf("server closed link: %s", msg.Trailing)
			gate.settle(true)
		}
		return

	case wire.CmdPing:
		s.catchSend("PONG :" + msg.Trailing + "\r\n")
		// A PING during the handshake window counts as the server
		// accepting us even without the welcome line.
		if gate.pending() {
			gate.settle(false)
		}
		return

	case wire.CmdJoin:
		if msg.Nick == nick {
			channel := strings.ToLower(strings.TrimPrefix(msg.Trailing, "#"))
			if channel == "" {
				channel = strings.ToLower(strings.TrimPrefix(msg.Param(0), "#"))
			}
			s.co.Signal(nsJoin, channel)
		}
		return

	case wire.CmdPrivmsg:
		if msg.Param(0) != nick {
			return
		}
		if msg.Trailing == wire.VersionRequest {
			s.Notice(msg.Nick, versionBanner)
			return
		}
		if wire.IsDCCSend(msg.Trailing) {
			s.handleOffer(msg)
		}
		return

	case wire.CmdNotice:
		s.handleNotice(msg)
		return
	}

	if msg.Trailing == nickInUseNotice {
		s.log.Warnf("nick %s is taken, growing", nick)
		s.growNick()
		gate.settle(true)
		return
	}

	if msg.Param(0) == nick && strings.HasPrefix(msg.Trailing, "Welcome to the") &&
		strings.Contains(msg.Trailing, nick) {
		gate.settle(false)
	}
}

func (s *Session) handleNotice(msg *wire.Message) {
	switch {
	case containsAny(msg.Trailing, cancelAckNotices):
		s.co.SignalEvent(nsCancel, msg.Nick)

	case queueRe.MatchString(msg.Trailing):
		s.log.WithField("bot", msg.Nick).Info("waiting in queue")

	case containsAny(msg.Trailing, refusalNotices):
		s.log.WithField("bot", msg.Nick).Infof("request refused: %s", msg.Trailing)
		s.co.SetLastRequested(msg.Nick, "")
		s.co.Signal(nsPacklist, msg.Nick)
		s.co.SignalEvent(nsResponse, msg.Nick)

	default:
		if groups := md5Re.FindStringSubmatch(msg.Trailing); groups != nil {
			s.co.SetMD5(msg.Nick, groups[1])
			s.co.Signal(nsMD5, msg.Nick)
		}
	}
}

// handleOffer parses a DCC SEND, runs the configured offer handler to
// completion, and only then wakes packlist and response waiters. The
// ordering is what lets a poller open the packlist right after waking: the
// filename becomes observable only once the file is closed.
func (s *Session) handleOffer(msg *wire.Message) {
	offer, err := wire.ParseDCCSend(msg.Nick, msg.Trailing)
	if err != nil {
		s.log.WithError(err).Warn("malformed DCC SEND request, ignoring")
		return
	}
	s.log.Info(offer.String())

	result := s.offers.Handle(offer, s)
	s.log.WithFields(logrus.Fields{
		"bot":    offer.Sender,
		"file":   offer.Filename,
		"result": result.String(),
	}).Debug("offer handled")

	if result == Done {
		s.co.SetPacklist(offer.Sender, offer.Filename)
	}
	s.co.Signal(nsPacklist, offer.Sender)
	s.co.SignalEvent(nsResponse, offer.Sender)
}
