package xdcc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/go-xdcc/pkg/wire"
)

// OfferHandler decides what happens to an incoming DCC SEND. The session
// default downloads it; a RelaySink publishes it instead.
type OfferHandler interface {
	Handle(offer *wire.Offer, s *Session) Result
}

// Downloader is the default offer handler: it receives the file into the
// session's download directory.
type Downloader struct {
	MD5Check bool
}

func (d *Downloader) Handle(offer *wire.Offer, s *Session) Result {
	return newTransfer(offer, s, d.MD5Check).Run()
}

// RelaySink captures offers instead of downloading them. The offered
// host:port stays untouched so an external process can do the dialing.
type RelaySink struct {
	ch chan *wire.Offer
}

func NewRelaySink() *RelaySink {
	return &RelaySink{ch: make(chan *wire.Offer, 1)}
}

// Handle records the offer and wakes the parked bridge request. An offer
// arriving while an earlier one is still unread is dropped.
func (r *RelaySink) Handle(offer *wire.Offer, _ *Session) Result {
	select {
	case r.ch <- offer:
	default:
	}
	return Done
}

// Offers yields the captured offers.
func (r *RelaySink) Offers() <-chan *wire.Offer {
	return r.ch
}

// MaxRelayPack bounds the pack number accepted by the bridge.
const MaxRelayPack = 100000

// DefaultOfferWait is how long a bridge request waits for the bot's offer.
const DefaultOfferWait = 10 * time.Second

// Bridge resolves (bot, pack#) pairs into live transfer descriptors over
// HTTP. One IRC session is created per request and torn down right after
// the offer arrives; requests are strictly serialised.
type Bridge struct {
	Network   string
	Port      int
	NickBase  string
	OfferWait time.Duration
	Logger    *logrus.Logger
}

// bridgeMu serialises bridge requests across the whole process.
var bridgeMu sync.Mutex

// Router exposes GET /{bot}/{pack}.
func (b *Bridge) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/{bot}/{pack:[0-9]+}", b.handle).Methods(http.MethodGet)
	return r
}

// descriptor is the JSON body of a successful resolution.
type descriptor struct {
	Filename string `json:"filename"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Filesize int64  `json:"filesize"`
}

func (b *Bridge) handle(w http.ResponseWriter, req *http.Request) {
	bridgeMu.Lock()
	defer bridgeMu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	vars := mux.Vars(req)
	bot := vars["bot"]
	pack, err := strconv.Atoi(vars["pack"])
	if err != nil || pack < 1 || pack > MaxRelayPack {
		fmt.Fprint(w, "{}")
		return
	}

	log := b.logger()
	sink := NewRelaySink()
	s, err := Dial(Config{
		Host:   b.Network,
		Port:   b.Port,
		Nick:   b.NickBase + xid.New().String()[15:],
		Offers: sink,
		Logger: b.Logger,
	})
	if err != nil {
		log.WithError(err).Warn("bridge session failed")
		fmt.Fprint(w, "{}")
		return
	}
	defer s.Disconnect()

	s.Msg(bot, fmt.Sprintf("XDCC SEND #%d", pack))

	wait := b.OfferWait
	if wait == 0 {
		wait = DefaultOfferWait
	}
	select {
	case offer := <-sink.Offers():
		_ = json.NewEncoder(w).Encode(descriptor{
			Filename: offer.Filename,
			Hostname: offer.IP.String(),
			Port:     offer.Port,
			Filesize: offer.Size,
		})
	case <-time.After(wait):
		log.WithField("bot", bot).Info("no offer arrived in time")
		fmt.Fprint(w, "{}")
	}
}

func (b *Bridge) logger() *logrus.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return logrus.StandardLogger()
}
