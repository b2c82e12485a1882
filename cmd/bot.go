package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fieldrelay/internal/debounce"
	"github.com/sells-group/fieldrelay/internal/delivery"
	"github.com/sells-group/fieldrelay/internal/httpapi"
	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/relay"
	"github.com/sells-group/fieldrelay/pkg/telegram"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the ingesting process",
	Long:  "Polls Telegram for group messages, relays them to the worker, and delivers each chat's daily workbook once it goes quiet.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("bot"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()

		pub := relay.NewPublisher(relayConfig())
		defer pub.Close() //nolint:errcheck
		if err := pub.EnsureStream(ctx); err != nil {
			return eris.Wrap(err, "bot: declare relay stream")
		}

		tg := telegram.NewClient(cfg.Telegram.Token, telegram.WithBaseURL(cfg.Telegram.BaseURL))
		coord := delivery.NewCoordinator(st, delivery.NewTelegramTransport(tg),
			delivery.WithLocation(cfg.Location()),
			delivery.WithReportName(cfg.Delivery.ReportName),
			delivery.WithMetrics(m),
		)
		timers := debounce.New(time.Duration(cfg.Debounce.QuietSecs)*time.Second, coord.OnQuiet,
			debounce.WithMetrics(m),
			debounce.WithCallbackTimeout(time.Duration(cfg.Debounce.CallbackTimeoutSecs)*time.Second),
		)
		ingest := delivery.NewIngestor(st, pub, timers, m)

		// Handlers outlive the poll loop's context so an accepted message is
		// still logged and relayed during shutdown.
		handlerCtx := context.WithoutCancel(ctx)
		poller := telegram.NewPoller(tg, func(_ context.Context, msg telegram.Message) {
			cm, id := delivery.FromTelegram(msg)
			_ = ingest.HandleMessage(handlerCtx, cm, id)
		}, time.Duration(cfg.Telegram.PollTimeoutSecs)*time.Second)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return poller.Run(gctx) })
		startMonitor(gctx, g, "bot", m)
		serveOps(gctx, g, "bot", st, m, map[string]httpapi.Check{
			"nats": func(ctx context.Context) error { return pub.EnsureStream(ctx) },
		})

		zap.L().Info("bot started",
			zap.Int("quiet_secs", cfg.Debounce.QuietSecs),
			zap.String("timezone", cfg.Delivery.Timezone),
		)
		err = g.Wait()

		grace := time.Duration(cfg.Debounce.ShutdownGraceSecs) * time.Second
		if !timers.CancelAll(grace) {
			zap.L().Warn("bot: some deliveries were still running at shutdown")
		}
		zap.L().Info("bot stopped")
		return err
	},
}

func init() {
	rootCmd.AddCommand(botCmd)
}
