package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"xdao.co/v2xsec/config"
	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/keys"
	"xdao.co/v2xsec/model"
)

func keyStore(c *cli.Context) (*keys.Store, error) {
	return keys.Open(c.String("keys-dir"))
}

// keyExecutor opens the executor named by an optional --config, or the
// software backend without one.
func keyExecutor(c *cli.Context) (executor.Executor, func() error, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = *loaded
	}
	return executor.Open(cfg.Executor)
}

var pointModeFlag = &cli.StringFlag{Name: "point-mode", Value: "x-only", Usage: "signature r encoding: x-only or compressed"}

func pointMode(c *cli.Context) (model.PointMode, error) {
	switch c.String("point-mode") {
	case "x-only":
		return model.PointXOnly, nil
	case "compressed":
		return model.PointCompressed, nil
	}
	return 0, fmt.Errorf("unknown point mode %q", c.String("point-mode"))
}

func printKey(c *cli.Context, k keys.Key) {
	fmt.Fprintf(c.App.Writer, "%s\t%s\n", k.Public, k.Path)
}

var keyCommand = &cli.Command{
	Name:  "key",
	Usage: "manage P-256 seeds in the local key store",
	Subcommands: []*cli.Command{
		{
			Name:  "init",
			Usage: "create a root key",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "seed-hex", Usage: "32-byte seed; random when omitted"},
				&cli.BoolFlag{Name: "force", Usage: "overwrite an existing key"},
			},
			Action: func(c *cli.Context) error {
				ks, err := keyStore(c)
				if err != nil {
					return err
				}
				var seed []byte
				if h := c.String("seed-hex"); h != "" {
					seed, err = keys.ParseSeedHex(h)
				} else {
					seed, err = keys.NewSeed()
				}
				if err != nil {
					return err
				}
				k, err := ks.Create(c.String("name"), seed, c.Bool("force"))
				if err != nil {
					return err
				}
				printKey(c, k)
				return nil
			},
		},
		{
			Name:  "derive",
			Usage: "derive a role key from a root key",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "from", Required: true},
				&cli.StringFlag{Name: "role", Required: true},
				&cli.BoolFlag{Name: "force"},
			},
			Action: func(c *cli.Context) error {
				ks, err := keyStore(c)
				if err != nil {
					return err
				}
				k, err := ks.Derive(c.String("from"), c.String("role"), c.Bool("force"))
				if err != nil {
					return err
				}
				printKey(c, k)
				return nil
			},
		},
		{
			Name:  "list",
			Usage: "list stored keys",
			Action: func(c *cli.Context) error {
				ks, err := keyStore(c)
				if err != nil {
					return err
				}
				entries, err := ks.List()
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(c.App.Writer, "%s\t%v\n", e.Name, e.Roles)
				}
				return nil
			},
		},
		{
			Name:  "export",
			Usage: "print the public key of a stored key",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "name", Required: true},
				&cli.StringFlag{Name: "role"},
			},
			Action: func(c *cli.Context) error {
				ks, err := keyStore(c)
				if err != nil {
					return err
				}
				pub, err := ks.Public(c.String("name"), c.String("role"))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, pub)
				return nil
			},
		},
		{
			Name:      "sign",
			Usage:     "sign a file with SHA-256 ECDSA through the configured executor",
			ArgsUsage: "<file>",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file selecting the executor"},
				pointModeFlag,
			}, signerFlags...),
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("expected one file")
				}
				msg, err := os.ReadFile(c.Args().First())
				if err != nil {
					return err
				}
				mode, err := pointMode(c)
				if err != nil {
					return err
				}
				seed, err := signerSeed(c)
				if err != nil {
					return err
				}
				ex, closeEx, err := keyExecutor(c)
				if err != nil {
					return err
				}
				defer closeEx()
				sig, err := keys.Sign(c.Context, ex, seed, msg, model.SHA256, mode)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, keys.FormatSignature(sig))
				return nil
			},
		},
		{
			Name:      "verify",
			Usage:     "check a signature made by key sign",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "config file selecting the executor"},
				&cli.StringFlag{Name: "pub", Required: true, Usage: "p256: public key"},
				&cli.StringFlag{Name: "sig", Required: true, Usage: "p256sig: signature"},
			},
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("expected one file")
				}
				msg, err := os.ReadFile(c.Args().First())
				if err != nil {
					return err
				}
				sig, err := keys.ParseSignature(c.String("sig"))
				if err != nil {
					return err
				}
				ex, closeEx, err := keyExecutor(c)
				if err != nil {
					return err
				}
				defer closeEx()
				if err := keys.Verify(c.Context, ex, c.String("pub"), msg, model.SHA256, sig); err != nil {
					fmt.Fprintf(c.App.Writer, "FAIL\t%s\n", model.CodeOf(err))
					return err
				}
				fmt.Fprintln(c.App.Writer, "OK")
				return nil
			},
		},
	},
}

// signerSeed resolves --seed-hex, --key-file or --signer/--signer-role.
func signerSeed(c *cli.Context) ([]byte, error) {
	ks, err := keyStore(c)
	if err != nil {
		return nil, err
	}
	return ks.Resolve(keys.SeedSource{
		Hex:  c.String("seed-hex"),
		File: c.String("key-file"),
		Name: c.String("signer"),
		Role: c.String("signer-role"),
	})
}

var signerFlags = []cli.Flag{
	&cli.StringFlag{Name: "seed-hex"},
	&cli.StringFlag{Name: "key-file"},
	&cli.StringFlag{Name: "signer", Usage: "key store name"},
	&cli.StringFlag{Name: "signer-role"},
}
