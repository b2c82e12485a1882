package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fieldrelay/internal/httpapi"
	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/monitoring"
	"github.com/sells-group/fieldrelay/internal/relay"
	"github.com/sells-group/fieldrelay/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "fieldrelay.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func relayConfig() relay.Config {
	n := cfg.NATS
	return relay.Config{
		URL:         n.URL,
		Stream:      n.Stream,
		Subject:     n.Subject,
		Durable:     n.Durable,
		PoolSize:    n.PoolSize,
		FetchWait:   time.Duration(n.FetchWaitSecs) * time.Second,
		DedupWindow: time.Duration(n.DedupWindowSecs) * time.Second,
		AckWait:     time.Duration(n.AckWaitSecs) * time.Second,

		PublishTimeout: time.Duration(n.PublishTimeoutSecs) * time.Second,
		MaxAckPending:  n.MaxAckPending,
	}
}

// serveOps starts the health/metrics server in g when a port is configured.
func serveOps(ctx context.Context, g *errgroup.Group, role string, st store.Store, m *metrics.Metrics, extra map[string]httpapi.Check) {
	if cfg.Server.Port == 0 {
		zap.L().Info("ops server disabled")
		return
	}
	checks := map[string]httpapi.Check{"store": st.Ping}
	for name, c := range extra {
		checks[name] = c
	}
	srv := httpapi.NewServer(role, checks, m.Handler(), st).AllowOrigins(cfg.Server.CORSOrigins...)
	g.Go(func() error {
		return httpapi.ListenAndServe(ctx, cfg.Server.Port, srv.Router())
	})
}

// startMonitor runs the webhook alert checker in g when a webhook is set.
func startMonitor(ctx context.Context, g *errgroup.Group, role string, m *metrics.Metrics) {
	mc := cfg.Monitoring
	if mc.WebhookURL == "" {
		return
	}
	checker := monitoring.NewChecker(monitoring.NewCollector(m.Gatherer()), monitoring.NewAlerter(mc, role), mc)
	g.Go(func() error {
		checker.Run(ctx)
		return nil
	})
}
