package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/davcore/davcore/internal/auth"
	"github.com/davcore/davcore/internal/config"
	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/middleware"
	"github.com/davcore/davcore/internal/share"
	"github.com/davcore/davcore/internal/storage"
	"github.com/davcore/davcore/internal/webdav"
	davauth "github.com/davcore/davcore/internal/webdav/auth"
	"github.com/davcore/davcore/internal/webdav/caldav"
	"github.com/davcore/davcore/internal/webdav/carddav"
	"github.com/davcore/davcore/internal/webdav/davsync"
	"github.com/davcore/davcore/internal/webdav/fs"
	"github.com/davcore/davcore/internal/webdav/locks"
	"github.com/davcore/davcore/internal/webdav/memory"
	"github.com/davcore/davcore/internal/webdav/propertystorage"
	"github.com/davcore/davcore/internal/webdav/sharing"
	"github.com/davcore/davcore/internal/webdav/sidecar"
	"github.com/davcore/davcore/internal/webdav/validators"
)

// app 进程内共享的服务
type app struct {
	cfg      *config.Config
	logger   logrus.FieldLogger
	db       *database.DB
	redis    *redis.Client
	sidecar  *sidecar.Store
	dav      *webdav.Server
	auth     *auth.Service
	shares   *share.Service
	metrics  *middleware.Metrics
	registry *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.db = db
	logger.WithField("driver", cfg.Database.Driver).Info("Connected to database")

	if err := a.initServices(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initDAV(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initServices(ctx context.Context) error {
	userRepo, err := auth.NewSQLUserRepository(ctx, a.db)
	if err != nil {
		return err
	}
	shareRepo, err := share.NewSQLRepository(ctx, a.db)
	if err != nil {
		return err
	}
	a.auth = auth.NewService(userRepo, a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
	a.shares = share.NewService(shareRepo)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = middleware.NewMetrics(a.registry)
	return nil
}

// sidecarStore file 后端的锁和属性共用一个 sidecar 文件
func (a *app) sidecarStore() (*sidecar.Store, error) {
	if a.sidecar != nil {
		return a.sidecar, nil
	}
	store, err := sidecar.Open(a.cfg.DAV.DataPath, sidecar.DefaultName)
	if err != nil {
		return nil, err
	}
	a.sidecar = store
	return store, nil
}

func (a *app) newRoot(ctx context.Context) (webdav.Collection, error) {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "memory":
		if cfg.Quota > 0 {
			a.logger.Infof("Memory storage limited to %s", humanize.IBytes(uint64(cfg.Quota)))
		}
		return memory.NewRoot(memory.WithQuota(cfg.Quota), memory.WithoutDeadProperties()), nil
	case "fs":
		a.logger.WithField("root", cfg.FS.Root).Info("Serving local directory")
		root, err := fs.NewRoot(cfg.FS.Root)
		if err != nil {
			return nil, err
		}
		return root, nil
	case "minio":
		svc, err := storage.NewService(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := svc.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		a.logger.WithField("bucket", cfg.MinIO.Bucket).Info("Storage service initialized")
		return storage.NewRoot(svc, cfg.MinIO.Prefix), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func (a *app) newLocksBackend(ctx context.Context) (locks.Backend, error) {
	switch a.cfg.Locks.Backend {
	case "memory":
		return locks.NewMemoryBackend(), nil
	case "file":
		store, err := a.sidecarStore()
		if err != nil {
			return nil, err
		}
		return sidecar.NewLocksBackend(store), nil
	case "sql":
		backend, err := locks.NewSQLBackend(ctx, a.db)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "redis":
		rc := a.cfg.Redis
		a.redis = redis.NewClient(&redis.Options{
			Addr:        rc.Address(),
			Password:    rc.Password,
			DB:          rc.DB,
			DialTimeout: rc.Timeout,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.logger.WithField("addr", rc.Address()).Info("Connected to Redis")
		return locks.NewRedisBackend(a.redis, rc.Prefix), nil
	}
	return nil, fmt.Errorf("unknown locks backend %q", a.cfg.Locks.Backend)
}

func (a *app) newPropertiesBackend(ctx context.Context) (propertystorage.Backend, error) {
	switch a.cfg.Properties.Backend {
	case "file":
		store, err := a.sidecarStore()
		if err != nil {
			return nil, err
		}
		return sidecar.NewPropertiesBackend(store), nil
	case "sql":
		backend, err := propertystorage.NewSQLBackend(ctx, a.db)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unknown properties backend %q", a.cfg.Properties.Backend)
}

func (a *app) authBackends() []davauth.Backend {
	var backends []davauth.Backend
	if a.cfg.Auth.Basic {
		backends = append(backends, davauth.NewBasicBackend(a.cfg.DAV.Realm, a.auth))
	}
	if a.cfg.Auth.Bearer {
		backends = append(backends, davauth.NewBearerBackend(a.cfg.DAV.Realm, a.auth))
	}
	return backends
}

func (a *app) initDAV(ctx context.Context) error {
	root, err := a.newRoot(ctx)
	if err != nil {
		return err
	}
	lockBackend, err := a.newLocksBackend(ctx)
	if err != nil {
		return err
	}
	propBackend, err := a.newPropertiesBackend(ctx)
	if err != nil {
		return err
	}

	dav := webdav.NewServer(root,
		webdav.WithLogger(a.logger),
		webdav.WithBaseURI(a.cfg.DAV.BaseURI),
		webdav.WithDebug(a.cfg.DAV.Debug),
		webdav.WithMaxDepth(a.cfg.DAV.MaxDepth),
		webdav.WithTreeCacheSize(a.cfg.DAV.CacheSize),
	)

	var plugins []webdav.Plugin
	if a.cfg.Auth.Enabled {
		plugins = append(plugins, davauth.New(a.authBackends()))
	}
	plugins = append(plugins,
		locks.New(lockBackend, locks.WithTimeouts(a.cfg.Locks.DefaultTimeout, a.cfg.Locks.MaxTimeout)),
		propertystorage.New(propBackend, propertystorage.WithValidator(validators.NewDefaultValidator(a.cfg.Properties.MaxValueSize))),
		davsync.New(),
		sharing.New(a.shares),
		caldav.New(),
		carddav.New(),
		a.metrics.Plugin(),
	)
	for _, p := range plugins {
		if err := dav.AddPlugin(p); err != nil {
			return fmt.Errorf("add plugin %s: %w", p.Name(), err)
		}
	}

	a.dav = dav
	a.logger.WithFields(logrus.Fields{
		"base_uri":   a.cfg.DAV.BaseURI,
		"storage":    a.cfg.Storage.Backend,
		"locks":      a.cfg.Locks.Backend,
		"properties": a.cfg.Properties.Backend,
		"plugins":    len(dav.Plugins()),
	}).Info("DAV server initialized")
	return nil
}

// Close 释放数据库和 redis 连接
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}
