package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"xdao.co/v2xsec/cidutil"
	"xdao.co/v2xsec/cmhf"
	"xdao.co/v2xsec/wire"
)

var certCommand = &cli.Command{
	Name:      "cert",
	Usage:     "print the identifiers and contents of an encoded certificate",
	ArgsUsage: "<file>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: v2xsec cert <file>", 2)
		}
		raw, err := os.ReadFile(c.Args().First())
		if err != nil {
			return err
		}
		cert, err := wire.Compact{}.DecodeCertificate(raw)
		if err != nil {
			return err
		}
		h := cidutil.Sum(raw)
		w := c.App.Writer
		fmt.Fprintf(w, "hashedid8\t%s\n", h.HashedID8())
		fmt.Fprintf(w, "cid\t%s\n", h.CID())
		fmt.Fprintf(w, "kind\t%s\n", cert.Contents.Kind)
		fmt.Fprintf(w, "validity\t%s .. %s\n", cert.Contents.Validity.Start.Time().UTC().Format("2006-01-02T15:04:05Z"), cert.Contents.Validity.End.Time().UTC().Format("2006-01-02T15:04:05Z"))
		fmt.Fprintf(w, "psids\t%v\n", cert.Contents.AppPermissions)
		fmt.Fprintf(w, "key\t%s\n", hex.EncodeToString(cert.Contents.VerifyKey.Point))
		return nil
	},
}

var cmhfCommand = &cli.Command{
	Name:  "cmhf",
	Usage: "crypto material handle containers",
	Subcommands: []*cli.Command{
		{
			Name:      "inspect",
			Usage:     "decode a container and print its header and members",
			ArgsUsage: "<file>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return cli.Exit("usage: v2xsec cmhf inspect <file>", 2)
				}
				b, err := os.ReadFile(c.Args().First())
				if err != nil {
					return err
				}
				rec, err := cmhf.Decode(b)
				if err != nil {
					return err
				}
				w := c.App.Writer
				fmt.Fprintf(w, "kind\t%s\n", rec.Kind)
				fmt.Fprintf(w, "issuer\t%s\n", rec.IssuerH8)
				fmt.Fprintf(w, "crl\t%s/%d\n", hex.EncodeToString(rec.CracaID[:]), rec.CrlSeries)
				fmt.Fprintf(w, "validity\t%d .. %d\n", rec.ValidStart, rec.ValidEnd)
				fmt.Fprintf(w, "psids\t%v\n", rec.Psids)
				if rec.Kind.Rotate() {
					fmt.Fprintf(w, "period\t%d\n", rec.PeriodI)
				}
				for i, ind := range rec.Individuals {
					fmt.Fprintf(w, "member %d\t%s\n", i, cidutil.HashedID8Of(ind.Cert))
				}
				return nil
			},
		},
	},
}
