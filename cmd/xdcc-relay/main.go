package main

import (
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	xdcc "github.com/simeonmiteff/go-xdcc"
)

func main() {
	app := &cli.App{
		Name:  "xdcc-relay",
		Usage: "resolve (bot, pack#) pairs into live DCC descriptors over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "network", Usage: "IRC server host", Required: true},
			&cli.IntFlag{Name: "port", Value: xdcc.DefaultPort, Usage: "IRC server port"},
			&cli.StringFlag{Name: "nick", Value: "roughneck", Usage: "nick prefix for bridge sessions"},
			&cli.StringFlag{Name: "listen", Value: ":5555", Usage: "HTTP listen address"},
			&cli.DurationFlag{Name: "wait", Value: xdcc.DefaultOfferWait, Usage: "how long to wait for the bot's offer"},
			&cli.BoolFlag{Name: "debug", Usage: "log every protocol line"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("xdcc-relay: %v", err)
	}
}

func run(c *cli.Context) error {
	logger := logrus.New()
	if c.Bool("debug") {
		logger.SetLevel(logrus.DebugLevel)
	}

	bridge := &xdcc.Bridge{
		Network:   c.String("network"),
		Port:      c.Int("port"),
		NickBase:  c.String("nick"),
		OfferWait: c.Duration("wait"),
		Logger:    logger,
	}

	srv := &http.Server{
		Addr:              c.String("listen"),
		Handler:           bridge.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("relay listening on %s", srv.Addr)
	return srv.ListenAndServe()
}
