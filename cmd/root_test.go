package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fieldrelay/internal/config"
	"github.com/sells-group/fieldrelay/internal/extract"
	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"bot", "worker", "migrate", "report"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "fieldrelay", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestReportCommand_Flags(t *testing.T) {
	require.NotNil(t, reportCmd.PersistentFlags().Lookup("chat"))
	require.NotNil(t, reportShowCmd.Flags().Lookup("day"))

	names := make(map[string]bool)
	for _, c := range reportCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"])
	assert.True(t, names["list"])
}

func TestFormatRows(t *testing.T) {
	var buf bytes.Buffer
	formatRows(&buf, [][]string{
		{"Дата", "Подразделение"},
		{"2024-10-27", "АОР"},
	})
	out := buf.String()
	assert.Contains(t, out, "Подразделение")
	assert.Contains(t, out, "2024-10-27")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestFormatDays(t *testing.T) {
	var buf bytes.Buffer
	formatDays(&buf, "c1", nil)
	assert.Contains(t, buf.String(), "No reports for chat c1")

	buf.Reset()
	formatDays(&buf, "c1", []model.Day{{Year: 2024, Month: time.October, Date: 27}})
	assert.Equal(t, "2024-10-27\n", buf.String())
}

func TestRelayConfig(t *testing.T) {
	cfg = &config.Config{NATS: config.NATSConfig{
		URL: "nats://x:4222", Stream: "S", Subject: "s.m", Durable: "d",
		PoolSize: 3, FetchWaitSecs: 2, DedupWindowSecs: 60, AckWaitSecs: 30,
		PublishTimeoutSecs: 7, MaxAckPending: 32,
	}}
	rc := relayConfig()
	assert.Equal(t, "S", rc.Stream)
	assert.Equal(t, 3, rc.PoolSize)
	assert.Equal(t, 2*time.Second, rc.FetchWait)
	assert.Equal(t, time.Minute, rc.DedupWindow)
	assert.Equal(t, 30*time.Second, rc.AckWait)
	assert.Equal(t, 7*time.Second, rc.PublishTimeout)
	assert.Equal(t, 32, rc.MaxAckPending)
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: t.TempDir() + "/test.db"}}
	st, err := openStore(t.Context())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Ping(t.Context()))
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}
	_, err := initStore(t.Context())
	require.Error(t, err)
}

func TestInitExtractor(t *testing.T) {
	cfg = &config.Config{}
	v, err := loadVocabulary()
	require.NoError(t, err)
	require.NotNil(t, v)

	cfg = &config.Config{Extract: config.ExtractConfig{Provider: "mistral", MistralKey: "k", RequestsPerSec: 1}}
	ex, err := initExtractor(v)
	require.NoError(t, err)
	assert.IsType(t, &extract.Limited{}, ex)

	cfg = &config.Config{Extract: config.ExtractConfig{Provider: "anthropic", AnthropicKey: "k"}}
	ex, err = initExtractor(v)
	require.NoError(t, err)
	assert.IsType(t, &extract.AnthropicExtractor{}, ex)

	cfg = &config.Config{Extract: config.ExtractConfig{Provider: "openai"}}
	_, err = initExtractor(v)
	require.Error(t, err)
}

func TestInitDrive_DisabledWithoutCredentials(t *testing.T) {
	cfg = &config.Config{}
	opts, err := initDrive(t.Context())
	require.NoError(t, err)
	assert.Empty(t, opts)

	cfg = &config.Config{Drive: config.DriveConfig{CredentialsPath: "/nonexistent.json"}}
	_, err = initDrive(t.Context())
	require.Error(t, err, "folder id is required")
}

func TestStartMonitor(t *testing.T) {
	cfg = &config.Config{}
	var g errgroup.Group
	startMonitor(t.Context(), &g, "bot", nil)
	require.NoError(t, g.Wait())

	cfg = &config.Config{Monitoring: config.MonitoringConfig{WebhookURL: "http://127.0.0.1:1/alerts", CheckIntervalSecs: 60}}
	ctx, cancel := context.WithCancel(t.Context())
	startMonitor(ctx, &g, "worker", metrics.New())
	cancel()
	require.NoError(t, g.Wait())
}
