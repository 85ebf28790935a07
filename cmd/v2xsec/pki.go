package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"xdao.co/v2xsec/cmh"
	"xdao.co/v2xsec/cmhf"
	"xdao.co/v2xsec/internal/pki"
	"xdao.co/v2xsec/keys"
	"xdao.co/v2xsec/model"
)

var pkiCommand = &cli.Command{
	Name:  "pki",
	Usage: "issue development certificates",
	Subcommands: []*cli.Command{
		{
			Name:  "root",
			Usage: "create a self-signed explicit root certificate",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "out", Required: true},
				&cli.Int64SliceFlag{Name: "psid", Usage: "permitted PSID, repeatable", Required: true},
				&cli.DurationFlag{Name: "lifetime", Value: 365 * 24 * time.Hour},
			}, signerFlags...),
			Action: func(c *cli.Context) error {
				seed, err := signerSeed(c)
				if err != nil {
					return err
				}
				priv, err := keys.PrivateFromSeed(seed)
				if err != nil {
					return err
				}
				psids, err := psidList(c.Int64Slice("psid"))
				if err != nil {
					return err
				}
				start := model.Now().Time32().Time64()
				root, err := pki.NewRootWithKey(priv, model.ValidityPeriod{Start: start, End: start + model.DurationFrom(c.Duration("lifetime"))}, psids...)
				if err != nil {
					return err
				}
				if err := os.WriteFile(c.String("out"), root.Cert, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", root.Hash.HashedID8(), root.Hash.CID())
				return nil
			},
		},
		{
			Name:  "issue",
			Usage: "issue an implicit certificate and write it as a sequential CMHF container",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: "root", Required: true, Usage: "issuer certificate file"},
				&cli.StringFlag{Name: "out-cert", Required: true},
				&cli.StringFlag{Name: "out-cmhf", Required: true},
				&cli.StringFlag{Name: "kind", Value: "application", Usage: "application | identification"},
			}, signerFlags...),
			Action: func(c *cli.Context) error {
				seed, err := signerSeed(c)
				if err != nil {
					return err
				}
				priv, err := keys.PrivateFromSeed(seed)
				if err != nil {
					return err
				}
				rootCert, err := os.ReadFile(c.String("root"))
				if err != nil {
					return err
				}
				root, err := pki.LoadAuthority(rootCert, priv)
				if err != nil {
					return err
				}
				kind := cmhf.KindApplication
				switch c.String("kind") {
				case "application":
				case "identification":
					kind = cmhf.KindIdentification
				default:
					return fmt.Errorf("unknown kind %q", c.String("kind"))
				}
				ee, err := root.IssueImplicit(model.CertificateContents{})
				if err != nil {
					return err
				}
				container, err := cmh.BuildSequential(nil, cmh.SequentialInput{
					Kind:      kind,
					Issuer:    cmh.Issuer{Cert: root.Cert},
					Cert:      ee.Cert,
					InitPriv:  ee.InitPriv,
					PrivRecon: ee.PrivRecon,
				})
				if err != nil {
					return err
				}
				if err := os.WriteFile(c.String("out-cert"), ee.Cert, 0o644); err != nil {
					return err
				}
				if err := os.WriteFile(c.String("out-cmhf"), container, 0o600); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", ee.Hash.HashedID8(), ee.Hash.CID())
				return nil
			},
		},
	},
}

func psidList(in []int64) ([]model.Psid, error) {
	out := make([]model.Psid, 0, len(in))
	for _, v := range in {
		p := model.Psid(v)
		if v < 0 || !p.Valid() {
			return nil, model.Errorf(model.ErrInvalidArgument, "psid %d out of range", v)
		}
		out = append(out, p)
	}
	return out, nil
}
