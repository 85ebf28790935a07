// Command v2xsec is the operator CLI: key management, development PKI,
// container inspection, SPDU signing and verification, and certificate
// store maintenance.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	_ "xdao.co/v2xsec/storage/grpccas"
	_ "xdao.co/v2xsec/storage/localfs"
	_ "xdao.co/v2xsec/storage/sqlitecas"
)

const VERSION = "v0.3.0"

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "v2xsec",
		Usage:     "V2X security layer tooling",
		Version:   VERSION,
		Writer:    out,
		ErrWriter: errOut,
		// Exit codes are handled in main so the app can run in tests.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "keys-dir", Usage: "key store directory (default ~/.v2xsec/keys)", EnvVars: []string{"V2XSEC_KEYS"}},
		},
		Commands: []*cli.Command{
			keyCommand,
			pkiCommand,
			certCommand,
			cmhfCommand,
			configCommand,
			spduCommand,
			storeCommand,
		},
	}
}

func main() {
	err := newApp(os.Stdout, os.Stderr).Run(os.Args)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	if ec, ok := err.(cli.ExitCoder); ok {
		os.Exit(ec.ExitCode())
	}
	os.Exit(1)
}
