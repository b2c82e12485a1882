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

	"github.com/sells-group/fieldrelay/internal/extract"
	"github.com/sells-group/fieldrelay/internal/httpapi"
	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/pipeline"
	"github.com/sells-group/fieldrelay/internal/relay"
	"github.com/sells-group/fieldrelay/internal/vocab"
	anthropicpkg "github.com/sells-group/fieldrelay/pkg/anthropic"
	"github.com/sells-group/fieldrelay/pkg/gdrive"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the extracting process",
	Long:  "Consumes relayed messages, extracts field-work records, and merges them into each chat's daily workbook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
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

		v, err := loadVocabulary()
		if err != nil {
			return err
		}

		ex, err := initExtractor(v)
		if err != nil {
			return err
		}

		opts := []pipeline.Option{
			pipeline.WithMetrics(m),
			pipeline.WithLocation(cfg.Location()),
			pipeline.WithUnits(pipeline.Units{Threshold: cfg.Units.YieldThreshold, Scale: cfg.Units.YieldScale}),
		}
		driveOpts, err := initDrive(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, driveOpts...)

		p := pipeline.New(ex, st, v, opts...)

		nc, err := relay.Connect(cfg.NATS.URL, "fieldrelay-worker")
		if err != nil {
			return err
		}
		defer nc.Close()

		consumer, err := relay.NewConsumer(nc, relayConfig(), m)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return consumer.Run(gctx, p.Process) })
		startMonitor(gctx, g, "worker", m)
		serveOps(gctx, g, "worker", st, m, map[string]httpapi.Check{
			"nats": func(context.Context) error {
				if !nc.IsConnected() {
					return eris.New("nats: not connected")
				}
				return nil
			},
		})

		zap.L().Info("worker started",
			zap.String("provider", cfg.Extract.Provider),
			zap.Int("subdivisions", v.Subdivisions.Len()),
			zap.Int("operations", v.Operations.Len()),
			zap.Int("crops", v.Crops.Len()),
		)
		err = g.Wait()
		zap.L().Info("worker stopped")
		return err
	},
}

func loadVocabulary() (*vocab.Vocabulary, error) {
	if cfg.Extract.VocabPath == "" {
		return vocab.Default(), nil
	}
	v, err := vocab.Load(cfg.Extract.VocabPath)
	if err != nil {
		return nil, eris.Wrap(err, "load vocabulary")
	}
	return v, nil
}

func initExtractor(v *vocab.Vocabulary) (extract.Extractor, error) {
	timeout := time.Duration(cfg.Extract.TimeoutSecs) * time.Second

	var ex extract.Extractor
	switch cfg.Extract.Provider {
	case "anthropic":
		client := anthropicpkg.NewClient(cfg.Extract.AnthropicKey, anthropicpkg.WithRequestTimeout(timeout))
		ex = extract.NewAnthropic(client, v, extract.AnthropicConfig{
			Model:     cfg.Extract.AnthropicModel,
			MaxTokens: cfg.Extract.MaxTokens,
			Timeout:   timeout,
		})
	case "mistral":
		ex = extract.NewMistral(cfg.Extract.MistralKey, cfg.Extract.MistralModel, v,
			extract.WithMistralBaseURL(cfg.Extract.MistralBaseURL),
			extract.WithMistralTimeout(timeout),
		)
	default:
		return nil, eris.Errorf("unsupported extraction provider: %s", cfg.Extract.Provider)
	}

	if cfg.Extract.RequestsPerSec > 0 {
		ex = extract.NewLimited(ex, cfg.Extract.RequestsPerSec)
	}
	return ex, nil
}

// initDrive returns the export and archive options when Drive credentials
// are configured.
func initDrive(ctx context.Context) ([]pipeline.Option, error) {
	d := cfg.Drive
	if d.CredentialsPath == "" {
		return nil, nil
	}
	if d.FolderID == "" {
		return nil, eris.New("drive.folder_id is required when drive.credentials_path is set")
	}

	client, err := gdrive.NewFromCredentialsFile(ctx, d.CredentialsPath,
		gdrive.WithBaseURL(d.BaseURL),
		gdrive.WithUploadURL(d.UploadURL),
	)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithExporter(pipeline.NewDriveExporter(client, d.FolderID, d.TeamName, cfg.Location())),
	}
	if d.ArchiveMessages {
		opts = append(opts, pipeline.WithArchiver(pipeline.NewArchiver(client, d.FolderID, d.TeamName)))
	}
	zap.L().Info("drive export enabled",
		zap.String("folder_id", d.FolderID),
		zap.Bool("archive_messages", d.ArchiveMessages),
	)
	return opts, nil
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
