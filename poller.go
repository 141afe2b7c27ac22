package xdcc

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-xdcc/pkg/filter"
	"github.com/simeonmiteff/go-xdcc/pkg/packlist"
)

const (
	// DefaultPollInterval is how often a bot's packlist is re-checked.
	DefaultPollInterval = 3 * time.Hour

	cancelAckWait = 2 * time.Second
)

// Poller periodically fetches one bot's packlist and requests every pack
// whose name passes a filter. Requests to the bot are strictly serial: a
// new XDCC SEND is only issued once the previous one was answered.
type Poller struct {
	Bot      string
	Filters  []*filter.Predicate
	Interval time.Duration
	Repeat   bool

	session  *Session
	log      *logrus.Entry
	filename string
	stop     chan struct{}
}

// NewPoller builds a poller for bot over s. One active poller per bot is
// the intended use; distinct bots may poll the same session concurrently.
func NewPoller(s *Session, bot string, filters []*filter.Predicate) *Poller {
	return &Poller{
		Bot:      bot,
		Filters:  filters,
		Interval: DefaultPollInterval,
		Repeat:   true,
		session:  s,
		log:      s.log.WithField("bot", bot),
		stop:     make(chan struct{}),
	}
}

// Stop asks the poller to exit at its next wait point.
func (p *Poller) Stop() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
}

func (p *Poller) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Run loops: cancel any stale transfer, fetch the packlist, walk it, then
// sleep out the rest of the interval. A missing packlist skips the sleep
// so the next attempt happens immediately.
func (p *Poller) Run() {
	co := p.session.co
	for !p.stopped() {
		start := time.Now()
		p.log.Infof("%s - checking %s for packs", time.Now().Format(time.ANSIC), p.Bot)

		// Clear any half-finished request from a previous run.
		ev := co.Event(nsCancel, p.Bot)
		p.session.Msg(p.Bot, "XDCC CANCEL")
		select {
		case <-ev:
		case <-time.After(cancelAckWait):
		case <-p.stop:
			co.Take(nsCancel, p.Bot)
			return
		}
		co.Take(nsCancel, p.Bot)

		arrived := p.waitOnPacklist()
		if arrived {
			p.parseFile()
		}
		p.log.Infof("finished checking %s for packs", p.Bot)

		if !p.Repeat {
			return
		}
		if remaining := p.Interval - time.Since(start); arrived && remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-p.stop:
				return
			}
		}
	}
}

// waitOnPacklist requests pack #1 until the bot actually sends it. A wake
// with the outstanding-request marker cleared means the bot refused; the
// request is reissued. Returns false when the bot sent nothing usable.
func (p *Poller) waitOnPacklist() bool {
	co := p.session.co
	co.SetPacklist(p.Bot, "")
	co.SetLastRequested(p.Bot, "")

	c := co.Cond(nsPacklist, p.Bot)
	for !p.stopped() {
		c.L.Lock()
		co.SetLastRequested(p.Bot, "#1")
		p.session.Msg(p.Bot, "XDCC SEND #1")
		c.Wait()
		c.L.Unlock()

		if co.LastRequested(p.Bot) == "" {
			// Refused or errored; ask again.
			continue
		}
		co.SetLastRequested(p.Bot, "")
		name := co.Packlist(p.Bot)
		if name == "" {
			return false
		}
		p.filename = name
		p.log.Infof("%s received", name)
		return true
	}
	return false
}

// parseFile walks the received packlist, matching each entry's name
// against each filter in order.
func (p *Poller) parseFile() {
	f, err := os.Open(filepath.Join(p.session.dir, filepath.Base(p.filename)))
	if err != nil {
		p.log.WithError(err).Error("unable to open packlist")
		return
	}
	entries, err := packlist.Parse(f)
	f.Close()
	if err != nil {
		p.log.WithError(err).Error("unable to read packlist")
		return
	}

	for _, pred := range p.Filters {
		for _, e := range entries {
			if p.stopped() {
				return
			}
			if pred.Match(e.Name) {
				p.checkCandidate(e.Pack, e.Name)
			}
		}
	}
}

// checkCandidate downloads pack unless its file already exists. The
// request is reissued until the bot either sends or declines; the
// dispatcher clears the outstanding marker on a decline.
func (p *Poller) checkCandidate(pack, name string) {
	co := p.session.co

	fs := co.FS()
	fs.Lock()
	exists := fileExists(filepath.Join(p.session.dir, filepath.Base(name)))
	fs.Unlock()
	if exists {
		p.log.WithField("file", name).Debug("file already exists")
		return
	}

	p.log.Infof("requesting pack %s %s", pack, name)
	co.SetLastRequested(p.Bot, "")
	for !p.stopped() {
		ev := co.Event(nsResponse, p.Bot)
		co.SetLastRequested(p.Bot, pack)
		p.session.Msg(p.Bot, fmt.Sprintf("XDCC SEND %s", pack))
		select {
		case <-ev:
		case <-p.stop:
			co.Take(nsResponse, p.Bot)
			return
		}
		co.Take(nsResponse, p.Bot)
		if co.LastRequested(p.Bot) != "" {
			// Answered with a transfer; clear for the next candidate.
			co.SetLastRequested(p.Bot, "")
			return
		}
		// Declined; try the same pack again.
	}
}
