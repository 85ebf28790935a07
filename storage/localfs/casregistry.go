package localfs

import (
	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Certificates as files in a local directory",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Keys:        map[string]string{"dir": "store directory (created if missing)"},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			dir, err := casregistry.Require("localfs", cfg, "dir")
			if err != nil {
				return nil, nil, err
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
