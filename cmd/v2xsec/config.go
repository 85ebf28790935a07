package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"xdao.co/v2xsec/config"
)

var configFlag = &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file path", Required: true}

var configCommand = &cli.Command{
	Name:  "config",
	Usage: "configuration helpers",
	Subcommands: []*cli.Command{
		{
			Name:  "template",
			Usage: "print a configuration with every default filled in",
			Action: func(c *cli.Context) error {
				cfg := config.Default()
				b, err := cfg.Marshal()
				if err != nil {
					return err
				}
				_, err = c.App.Writer.Write(b)
				return err
			},
		},
		{
			Name:  "validate",
			Usage: "load a configuration and report its profiles",
			Flags: []cli.Flag{configFlag},
			Action: func(c *cli.Context) error {
				cfg, err := config.Load(c.String("config"))
				if err != nil {
					return err
				}
				for _, p := range cfg.Profiles.Entries {
					fmt.Fprintf(c.App.Writer, "psid %d\tverify=%t replay=%t\n", p.Psid, p.Rx.VerifyData, p.Rx.Relevance.Replay)
				}
				fmt.Fprintln(c.App.Writer, "ok")
				return nil
			},
		},
	},
}
