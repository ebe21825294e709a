// cmd/main.go

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"AveLog/pkg/utils"
	"AveLog/pkg/version"

	"github.com/google/gops/agent"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger = utils.GetLogger("avelog")

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"debug", "v"},
			Usage:   "enable debug log",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "only warning and errors",
		},
		&cli.BoolFlag{
			Name:  "trace",
			Usage: "enable trace log",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "write log to this file instead of stderr",
		},
		&cli.BoolFlag{
			Name:  "no-agent",
			Usage: "disable gops agent",
		},
	}
}

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "print only the version",
	}
	app := &cli.App{
		Name:                 "avelog",
		Usage:                "An in-memory store of compressed log chunks.",
		Version:              version.Version(),
		EnableBashCompletion: true,
		Flags:                globalFlags(),
		Before:               setup,
		Commands: []*cli.Command{
			benchFlags(),
			quotaFlags(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context) error {
	setLoggerLevel(c)
	if f := c.String("log-file"); f != "" {
		if err := utils.SetOutFile(f); err != nil {
			return fmt.Errorf("open log file %s: %s", f, err)
		}
	}
	if !c.Bool("no-agent") {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Warnf("start gops agent: %s", err)
		}
	}
	return nil
}

func setLoggerLevel(c *cli.Context) {
	switch {
	case c.Bool("trace"):
		utils.SetLogLevel(logrus.TraceLevel)
	case c.Bool("verbose"):
		utils.SetLogLevel(logrus.DebugLevel)
	case c.Bool("quiet"):
		utils.SetLogLevel(logrus.WarnLevel)
	default:
		utils.SetLogLevel(logrus.InfoLevel)
	}
}

func printJson(v interface{}) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Fatalf("json: %s", err)
	}
	fmt.Println(string(output))
}
