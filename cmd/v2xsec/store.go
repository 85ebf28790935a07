package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/storage/casregistry"
)

var storeFlags = []cli.Flag{
	&cli.StringFlag{Name: "backend", Value: "localfs"},
	&cli.StringSliceFlag{Name: "store-opt", Usage: "backend option key=value, repeatable"},
}

func openStore(c *cli.Context) (storage.CAS, func() error, error) {
	opts := map[string]string{}
	for _, kv := range c.StringSlice("store-opt") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, nil, fmt.Errorf("store-opt %q: want key=value", kv)
		}
		opts[k] = v
	}
	cas, closeFn, err := casregistry.Open(c.String("backend"), casregistry.UsageCLI, opts)
	if err != nil {
		return nil, nil, err
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return cas, closeFn, nil
}

var storeCommand = &cli.Command{
	Name:  "store",
	Usage: "certificate store maintenance",
	Subcommands: []*cli.Command{
		{
			Name:  "backends",
			Usage: "list available backends and their options",
			Action: func(c *cli.Context) error {
				for _, b := range casregistry.List(casregistry.UsageCLI) {
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", b.Name, b.Description)
					for k, doc := range b.Keys {
						fmt.Fprintf(c.App.Writer, "  %s\t%s\n", k, doc)
					}
				}
				return nil
			},
		},
		{
			Name:      "put",
			Usage:     "store certificate files and print their CIDs",
			ArgsUsage: "<file>...",
			Flags:     storeFlags,
			Action: func(c *cli.Context) error {
				cas, closeFn, err := openStore(c)
				if err != nil {
					return err
				}
				defer closeFn()
				for _, path := range c.Args().Slice() {
					b, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					id, err := cas.Put(b)
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					fmt.Fprintln(c.App.Writer, id)
				}
				return nil
			},
		},
		{
			Name:  "list",
			Usage: "list stored CIDs",
			Flags: storeFlags,
			Action: func(c *cli.Context) error {
				cas, closeFn, err := openStore(c)
				if err != nil {
					return err
				}
				defer closeFn()
				ids, err := storage.List(cas)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(c.App.Writer, id)
				}
				return nil
			},
		},
	},
}
