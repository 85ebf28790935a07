package sqlitecas

import (
	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "sqlite",
		Description: "Certificates in a SQLite database file",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Keys:        map[string]string{"path": "database file (created if missing)"},
		Open: func(cfg map[string]string) (storage.CAS, func() error, error) {
			path, err := casregistry.Require("sqlite", cfg, "path")
			if err != nil {
				return nil, nil, err
			}
			cas, err := Open(path)
			if err != nil {
				return nil, nil, err
			}
			return cas, cas.Close, nil
		},
	})
}
