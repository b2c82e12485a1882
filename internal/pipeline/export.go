package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/resilience"
)

// Uploader stores files in a remote folder tree. pkg/gdrive implements it.
type Uploader interface {
	Upload(ctx context.Context, folderID, filename string, data []byte, overwrite bool) (string, error)
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
}

// DriveExporter uploads each updated workbook as {HHDDMMYYYY}_{team}.xlsx,
// replacing the file of the same name.
type DriveExporter struct {
	up       Uploader
	folderID string
	team     string
	loc      *time.Location
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewDriveExporter creates a DriveExporter writing into folderID.
func NewDriveExporter(up Uploader, folderID, team string, loc *time.Location) *DriveExporter {
	if loc == nil {
		loc = time.UTC
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("gdrive", "export")
	return &DriveExporter{
		up:       up,
		folderID: folderID,
		team:     team,
		loc:      loc,
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "gdrive", FailureThreshold: 3, Cooldown: time.Minute}),
		retry:    retry,
		now:      time.Now,
	}
}

// Filename returns the export name for the current hour.
func (e *DriveExporter) Filename() string {
	return fmt.Sprintf("%s_%s.xlsx", e.now().In(e.loc).Format("1502012006"), e.team)
}

// Export implements Exporter.
func (e *DriveExporter) Export(ctx context.Context, art *model.DailyArtifact) error {
	if art == nil || len(art.Blob) == 0 {
		return nil
	}
	name := e.Filename()
	id, err := resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (string, error) {
		return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (string, error) {
			return e.up.Upload(ctx, e.folderID, name, art.Blob, true)
		})
	})
	if err != nil {
		return eris.Wrapf(err, "pipeline: export %s", name)
	}
	zap.L().Info("pipeline: artifact exported",
		zap.String("conversation_id", art.ConversationID),
		zap.String("file", name),
		zap.String("file_id", id),
	)
	return nil
}

// Archiver keeps each raw message as a text file in a per-team subfolder,
// named {sender}_{n}_{MMHHDDMMYYYY}.txt where n counts that sender's
// messages since the archiver was created.
type Archiver struct {
	up       Uploader
	parentID string
	team     string

	mu       sync.Mutex
	counters map[string]int
	folderID string
}

// NewArchiver creates an Archiver that writes under parentID/team.
func NewArchiver(up Uploader, parentID, team string) *Archiver {
	return &Archiver{
		up:       up,
		parentID: parentID,
		team:     team,
		counters: make(map[string]int),
	}
}

// Next returns the filename for the sender's next message.
func (a *Archiver) Next(sender string, at time.Time) string {
	sender = archiveName(sender)

	a.mu.Lock()
	a.counters[sender]++
	n := a.counters[sender]
	a.mu.Unlock()

	return fmt.Sprintf("%s_%d_%s.txt", sender, n, at.Format("041502012006"))
}

// Archive uploads the message text.
func (a *Archiver) Archive(ctx context.Context, ev model.IngestEvent, at time.Time) error {
	folder, err := a.folder(ctx)
	if err != nil {
		return err
	}
	name := a.Next(ev.Sender, at)
	if _, err := a.up.Upload(ctx, folder, name, []byte(ev.Text), false); err != nil {
		return eris.Wrapf(err, "pipeline: archive %s", name)
	}
	return nil
}

func (a *Archiver) folder(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.folderID != "" {
		return a.folderID, nil
	}
	id, err := a.up.EnsureFolder(ctx, a.parentID, a.team)
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: ensure archive folder %s", a.team)
	}
	a.folderID = id
	return id, nil
}

func archiveName(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return "UnknownUser"
	}
	return strings.NewReplacer("/", "_", "\\", "_").Replace(sender)
}
