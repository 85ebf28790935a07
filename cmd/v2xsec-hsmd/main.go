// Command v2xsec-hsmd serves signing and verification offload, and
// optionally a shared certificate store, over gRPC.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"

	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/storage/casregistry"
	"xdao.co/v2xsec/storage/grpccas"

	_ "xdao.co/v2xsec/storage/localfs"
	_ "xdao.co/v2xsec/storage/sqlitecas"
)

var app = &cli.App{
	Name:  "v2xsec-hsmd",
	Usage: "crypto offload and certificate store daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Value: "127.0.0.1:7777", Usage: "listen address"},
		&cli.StringFlag{Name: "backend", Usage: "certificate store backend; empty serves offload only"},
		&cli.StringSliceFlag{Name: "store-opt", Usage: "backend option key=value, repeatable"},
		&cli.BoolFlag{Name: "list-backends", Usage: "list supported backends and exit"},
		&cli.StringFlag{Name: "log-level", Value: "info"},
	},
	Action: serve,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	if c.Bool("list-backends") {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", b.Name, b.Description)
			for k, doc := range b.Keys {
				fmt.Fprintf(c.App.Writer, "  %s\t%s\n", k, doc)
			}
		}
		return nil
	}

	log := logrus.New()
	lvl, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})

	s := grpc.NewServer()
	executor.RegisterOffloadServer(s, &executor.Server{Executor: executor.NewSoftware(nil)})

	if name := c.String("backend"); name != "" {
		opts, err := parseOpts(c.StringSlice("store-opt"))
		if err != nil {
			return err
		}
		cas, closeFn, err := casregistry.Open(name, casregistry.UsageDaemon, opts)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn()
		}
		grpccas.RegisterCertStoreServer(s, &grpccas.Server{CAS: cas, Log: log})
	}

	lis, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.WithField("signal", sig.String()).Info("v2xsec-hsmd: stopping")
		s.GracefulStop()
	}()

	log.WithFields(logrus.Fields{"addr": lis.Addr().String(), "backend": c.String("backend")}).Info("v2xsec-hsmd: listening")
	return s.Serve(lis)
}

func parseOpts(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("store-opt %q: want key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}
