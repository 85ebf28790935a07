package grpccas

import (
	"fmt"
	"strconv"
	"time"

	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "Certificate store served by a v2xsec-hsmd daemon",
		Usage:       casregistry.UsageCLI,
		Keys: map[string]string{
			"target":        "daemon address host:port",
			"timeout":       "per-RPC timeout, e.g. 2s (default none)",
			"max_msg_bytes": "max message size in bytes (default grpc's)",
		},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			target, err := casregistry.Require("grpc", cfg, "target")
			if err != nil {
				return nil, nil, err
			}
			var opts DialOptions
			if v := cfg["max_msg_bytes"]; v != "" {
				if opts.MaxMsgBytes, err = strconv.Atoi(v); err != nil {
					return nil, nil, fmt.Errorf("grpccas: max_msg_bytes: %w", err)
				}
			}
			var timeout time.Duration
			if v := cfg["timeout"]; v != "" {
				if timeout, err = time.ParseDuration(v); err != nil {
					return nil, nil, fmt.Errorf("grpccas: timeout: %w", err)
				}
			}
			client, err := Dial(target, opts)
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = timeout
			return client, client.Close, nil
		},
	})
}
