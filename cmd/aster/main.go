package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"

	"github.com/aster-network/aster/build"
	"github.com/aster-network/aster/lib/asterlog"
	"github.com/aster-network/aster/metrics"
)

var log = logging.Logger("aster")

func main() {
	asterlog.SetupLogLevels()

	if err := view.Register(metrics.DefaultViews...); err != nil {
		log.Fatalf("cannot register metrics views: %s", err)
	}

	local := []*cli.Command{
		uploadCmd,
		downloadCmd,
		sendCmd,
		receiveCmd,
		auditCmd,
		walletCmd,
		configCmd,
	}

	app := &cli.App{
		Name:                 "aster",
		Usage:                "Client for the Aster storage network",
		Version:              build.UserVersion(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				EnvVars: []string{"ASTER_PATH"},
				Value:   "~/.aster",
				Usage:   "Specify path where aster should store its state",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
			},
		},
		Before: func(cctx *cli.Context) error {
			return logging.SetLogLevel("aster", cctx.String("log-level"))
		},
		Commands: local,
	}
	app.Setup()

	RunApp(app)
}
