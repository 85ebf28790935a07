package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"xdao.co/v2xsec/certcache"
	"xdao.co/v2xsec/cmh"
	"xdao.co/v2xsec/executor"
	"xdao.co/v2xsec/model"
	"xdao.co/v2xsec/profile"
	"xdao.co/v2xsec/spdu"
	"xdao.co/v2xsec/storage"
	"xdao.co/v2xsec/storage/casregistry"
	"xdao.co/v2xsec/wire"
)

// Runtime is a SecurityContext assembled from a Config plus the resources
// it holds open.
type Runtime struct {
	Context  *spdu.SecurityContext
	Executor executor.Executor
	// Store is nil when no certificate store is configured.
	Store   storage.CAS
	Log     *logrus.Logger
	Metrics metrics.Registry

	closers []func() error
}

// Close releases the executor and store connections.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the runtime: executor, certificate store, warmed cache,
// profile table, credentials and trust anchors.
func Open(cfg *Config, usage casregistry.Usage, now model.Time64) (*Runtime, error) {
	rt := &Runtime{Log: cfg.Logger(), Metrics: metrics.NewRegistry()}
	codec := wire.Compact{}

	ex, closeEx, err := executor.Open(cfg.Executor)
	if err != nil {
		return nil, err
	}
	rt.Executor = ex
	rt.closers = append(rt.closers, closeEx)

	cache := certcache.New(certcache.Options{
		TTL:      micros(cfg.Cache.TTL),
		Capacity: cfg.Cache.Capacity,
		Log:      rt.Log,
	})

	if cfg.Store.Enabled() {
		cas, closeStore, err := cfg.Store.Open(usage)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.Store = cas
		if closeStore != nil {
			rt.closers = append(rt.closers, closeStore)
		}
		if err := warm(cache, cas, now, rt.Log); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	table, err := profile.LoadTable(cfg.Profiles.Options, cfg.Profiles.Entries)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	creds := cmh.NewStore(codec, rt.Log)
	if cfg.Butterfly.RotationInterval > 0 {
		creds.RotationInterval = micros(cfg.Butterfly.RotationInterval)
	}
	for _, path := range cfg.Credentials {
		b, err := os.ReadFile(path)
		if err == nil {
			_, err = creds.AddContainer(b)
		}
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("config: credentials %s: %w", path, err)
		}
	}

	rt.Context = spdu.NewSecurityContext(spdu.Options{
		Codec:    codec,
		Executor: ex,
		Cache:    cache,
		Profiles: table,
		Creds:    creds,
		Store:    rt.Store,
		Log:      rt.Log,
		Metrics:  rt.Metrics,
		KeyTTL:   micros(cfg.Cache.KeyTTL),
	})
	for _, path := range cfg.TrustAnchors {
		b, err := os.ReadFile(path)
		if err == nil {
			_, err = rt.Context.AddTrustAnchor(b, now)
		}
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("config: trust anchor %s: %w", path, err)
		}
	}
	return rt, nil
}

func warm(cache *certcache.Cache, cas storage.CAS, now model.Time64, log *logrus.Logger) error {
	ids, err := storage.List(cas)
	if errors.Is(err, storage.ErrNotListable) {
		log.Info("config: certificate store cannot list, cache starts cold")
		return nil
	}
	if err != nil {
		return err
	}
	n, err := cache.Warm(cas, wire.Compact{}, ids, now)
	if err != nil {
		return err
	}
	log.WithField("certificates", n).Info("config: cache warmed")
	return nil
}
