package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/urfave/cli/v2"

	"xdao.co/v2xsec/config"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/spdu"
	"xdao.co/v2xsec/storage/casregistry"
)

func openRuntime(c *cli.Context, now model.Time64) (*config.Runtime, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	return config.Open(cfg, casregistry.UsageCLI, now)
}

func nowFlag(c *cli.Context) model.Time64 {
	if v := c.Uint64("now"); v != 0 {
		return model.Time64(v)
	}
	return model.Now()
}

var spduCommand = &cli.Command{
	Name:  "spdu",
	Usage: "sign and verify secured protocol data units",
	Subcommands: []*cli.Command{
		{
			Name:  "sign",
			Usage: "sign a payload with the configured credentials",
			Flags: []cli.Flag{
				configFlag,
				&cli.Uint64Flag{Name: "psid", Required: true},
				&cli.StringFlag{Name: "in", Required: true, Usage: "payload file"},
				&cli.StringFlag{Name: "out", Required: true},
				&cli.Uint64Flag{Name: "now", Usage: "generation time in microseconds since 2004 (default current time)"},
				&cli.StringFlag{Name: "signer", Value: "auto", Usage: "auto | digest | certificate"},
			},
			Action: func(c *cli.Context) error {
				now := nowFlag(c)
				rt, err := openRuntime(c, now)
				if err != nil {
					return err
				}
				defer rt.Close()

				payload, err := os.ReadFile(c.String("in"))
				if err != nil {
					return err
				}
				policy := spdu.SignerAuto
				switch c.String("signer") {
				case "auto":
				case "digest":
					policy = spdu.SignerForceDigest
				case "certificate":
					policy = spdu.SignerForceCertificate
				default:
					return fmt.Errorf("unknown signer policy %q", c.String("signer"))
				}
				out, err := rt.Context.ConstructSigned(c.Context, payload, model.Psid(c.Uint64("psid")), spdu.HeaderOptions{Now: now}, policy)
				if err != nil {
					return err
				}
				return os.WriteFile(c.String("out"), out, 0o644)
			},
		},
		{
			Name:      "verify",
			Usage:     "process SPDU files through the queued pipeline and print each result",
			ArgsUsage: "<file>...",
			Flags: []cli.Flag{
				configFlag,
				&cli.Uint64Flag{Name: "psid", Required: true},
				&cli.Uint64Flag{Name: "now", Usage: "receive time in microseconds since 2004 (default current time)"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() == 0 {
					return cli.Exit("usage: v2xsec spdu verify --config <file> --psid <n> <file>...", 2)
				}
				now := nowFlag(c)
				cfg, err := config.Load(c.String("config"))
				if err != nil {
					return err
				}
				rt, err := config.Open(cfg, casregistry.UsageCLI, now)
				if err != nil {
					return err
				}
				defer rt.Close()

				var (
					mu     sync.Mutex
					names  = map[string]string{}
					failed int
				)
				p := spdu.NewProcessor(rt.Context, func(item spdu.WorkItem, r spdu.Result) {
					mu.Lock()
					defer mu.Unlock()
					name := names[item.ID.String()]
					if r.Err != nil {
						failed++
						fmt.Fprintf(c.App.Writer, "%s\tFAIL\t%s\t%v\n", name, r.Code(), r.Err)
						return
					}
					fmt.Fprintf(c.App.Writer, "%s\tOK\t%d bytes\tverified=%t\n", name, len(r.Payload.Payload), r.Payload.Verified)
				}, cfg.Processor)

				for _, path := range c.Args().Slice() {
					raw, err := os.ReadFile(path)
					if err != nil {
						_ = p.Close()
						return err
					}
					mu.Lock()
					id, err := p.Submit(raw, model.Psid(c.Uint64("psid")), now, spdu.ProcessOptions{})
					if err == nil {
						names[id.String()] = path
					}
					mu.Unlock()
					if err != nil {
						_ = p.Close()
						return err
					}
				}
				if err := p.Drain(c.Context); err != nil {
					return err
				}
				if err := p.Close(); err != nil {
					return err
				}
				if failed > 0 {
					return cli.Exit(fmt.Sprintf("%d of %d failed", failed, c.NArg()), 1)
				}
				return nil
			},
		},
	},
}
