package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	xdcc "github.com/simeonmiteff/go-xdcc"
	"github.com/simeonmiteff/go-xdcc/pkg/filter"
	"github.com/simeonmiteff/go-xdcc/pkg/metrics"
	"github.com/simeonmiteff/go-xdcc/pkg/wire"
)

// countingOffers wraps the downloading offer handler with a result counter.
type countingOffers struct {
	inner xdcc.OfferHandler
}

func (c countingOffers) Handle(offer *wire.Offer, s *xdcc.Session) xdcc.Result {
	result := c.inner.Handle(offer, s)
	metrics.TransferResults.WithLabelValues(result.String()).Inc()
	return result
}

func main() {
	app := &cli.App{
		Name:  "xdcc-fetch",
		Usage: "watch XDCC bots and download packs matching a filter list",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "network", Usage: "IRC server host", Required: true},
			&cli.IntFlag{Name: "port", Value: xdcc.DefaultPort, Usage: "IRC server port"},
			&cli.StringFlag{Name: "nick", Value: "roughneck", Usage: "IRC nick"},
			&cli.StringSliceFlag{Name: "bot", Usage: "XDCC bot to poll (repeatable)", Required: true},
			&cli.StringFlag{Name: "filters", Usage: "filter file, one regular expression per line", Required: true},
			&cli.StringSliceFlag{Name: "join", Usage: "channel to join before polling (repeatable)"},
			&cli.Float64Flag{Name: "rate", Usage: "download rate cap in KiB/s (0 = unlimited)"},
			&cli.DurationFlag{Name: "interval", Value: xdcc.DefaultPollInterval, Usage: "packlist poll interval"},
			&cli.BoolFlag{Name: "once", Usage: "poll each bot a single time and exit"},
			&cli.BoolFlag{Name: "md5check", Usage: "verify advertised md5sums before replacing packlists"},
			&cli.StringFlag{Name: "dir", Value: ".", Usage: "download directory"},
			&cli.StringFlag{Name: "log", Value: "irc.log", Usage: "session log file ('' for stderr only)"},
			&cli.StringFlag{Name: "metrics", Usage: "listen address for the prometheus endpoint"},
			&cli.BoolFlag{Name: "debug", Usage: "log every protocol line"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("xdcc-fetch: %v", err)
	}
}

func run(c *cli.Context) error {
	logger := logrus.New()
	if c.Bool("debug") {
		logger.SetLevel(logrus.DebugLevel)
	}
	if path := c.String("log"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		logger.AddHook(&fileHook{file: f, formatter: &logrus.TextFormatter{DisableColors: true}})
	}

	filters, err := filter.LoadFile(c.String("filters"))
	if err != nil {
		return err
	}

	var collector *metrics.ConnCollector
	var report xdcc.ReportStatsFn
	var offers xdcc.OfferHandler
	if addr := c.String("metrics"); addr != "" {
		offers = countingOffers{inner: &xdcc.Downloader{MD5Check: c.Bool("md5check")}}
		collector = metrics.NewConnCollector("xdcc_conn", []string{"id"}, prometheus.Labels{"network": c.String("network")})
		prometheus.MustRegister(collector, metrics.TransferResults)
		report = func(conn *xdcc.Conn, state int) {
			if state == xdcc.ConnOpen {
				collector.Add(conn, []string{xid.New().String()})
			} else {
				collector.Remove(conn)
			}
		}
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				logger.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	session, err := xdcc.Dial(xdcc.Config{
		Host:     c.String("network"),
		Port:     c.Int("port"),
		Nick:     c.String("nick"),
		Dir:      c.String("dir"),
		RateKiB:  c.Float64("rate"),
		MD5Check: c.Bool("md5check"),
		Offers:   offers,
		Report:   report,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer session.Disconnect()

	for _, channel := range c.StringSlice("join") {
		session.Join(channel)
		time.Sleep(time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, bot := range c.StringSlice("bot") {
		poller := xdcc.NewPoller(session, bot, filters)
		poller.Interval = c.Duration("interval")
		poller.Repeat = !c.Bool("once")
		g.Go(func() error {
			poller.Run()
			return nil
		})
		go func() {
			<-ctx.Done()
			poller.Stop()
		}()
	}
	return g.Wait()
}

// fileHook duplicates log entries into the session log file.
type fileHook struct {
	file      *os.File
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(e *logrus.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.file.Write(b)
	return err
}
