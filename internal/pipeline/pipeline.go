// Package pipeline turns one relayed message into validated records and
// merges them into the conversation's artifact for the message day.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldrelay/internal/extract"
	"github.com/sells-group/fieldrelay/internal/metrics"
	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/vocab"
)

// ArtifactStore is the part of store.Store the pipeline writes through.
type ArtifactStore interface {
	UpsertArtifact(ctx context.Context, conversationID string, day model.Day, records []model.Record) (*model.DailyArtifact, error)
}

// Exporter publishes an updated artifact somewhere outside the store.
type Exporter interface {
	Export(ctx context.Context, art *model.DailyArtifact) error
}

// Units is the yield unit heuristic: values strictly above Threshold are
// divided by Scale.
type Units struct {
	Threshold float64
	Scale     float64
}

// DefaultUnits returns the heuristic used when none is configured.
func DefaultUnits() Units {
	return Units{Threshold: 10000, Scale: 100}
}

func (u Units) apply(v *float64) *float64 {
	if v == nil || u.Scale <= 0 || *v <= u.Threshold {
		return v
	}
	return model.Float(*v / u.Scale)
}

// Pipeline processes relayed events one at a time.
type Pipeline struct {
	extractor extract.Extractor
	store     ArtifactStore
	vocab     *vocab.Vocabulary
	units     Units
	loc       *time.Location
	exporter  Exporter
	archiver  *Archiver
	metrics   *metrics.Metrics
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithExporter uploads every updated artifact.
func WithExporter(e Exporter) Option {
	return func(p *Pipeline) { p.exporter = e }
}

// WithArchiver keeps a copy of every raw message.
func WithArchiver(a *Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithMetrics records pipeline counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithUnits overrides the yield heuristic.
func WithUnits(u Units) Option {
	return func(p *Pipeline) { p.units = u }
}

// WithLocation sets the zone that defines a message's day.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) { p.loc = loc }
}

// New creates a Pipeline.
func New(ex extract.Extractor, st ArtifactStore, v *vocab.Vocabulary, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: ex,
		store:     st,
		vocab:     v,
		units:     DefaultUnits(),
		loc:       time.UTC,
	}
	for _, o := range opts {
		o(p)
	}
	if p.vocab == nil {
		p.vocab = vocab.Default()
	}
	return p
}

// Process extracts, normalizes and validates the records in ev and merges
// them into the (conversation, message day) artifact.
//
// Extraction failures are logged and swallowed: the event is considered
// handled. Invalid events and store failures are returned.
func (p *Pipeline) Process(ctx context.Context, ev model.IngestEvent) error {
	if err := ev.Validate(); err != nil {
		return eris.Wrap(err, "pipeline: invalid event")
	}
	at, err := ev.Time(p.loc)
	if err != nil {
		return eris.Wrap(err, "pipeline: event time")
	}
	msgDay := model.DayOf(at)

	log := zap.L().With(
		zap.String("conversation_id", ev.ConversationID),
		zap.String("message_id", ev.MessageID),
		zap.Stringer("day", msgDay),
	)

	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, ev, at); err != nil {
			log.Warn("pipeline: archive message failed", zap.Error(err))
		}
	}

	start := time.Now()
	raw, err := p.extractor.Extract(ctx, ev.Text)
	p.metrics.ObserveExtract(time.Since(start))
	if err != nil {
		kind := string(extract.KindOf(err))
		if kind == "" {
			kind = string(extract.KindUpstream)
		}
		p.metrics.IncExtractError(kind)
		log.Error("pipeline: extraction failed, dropping event", zap.String("kind", kind), zap.Error(err))
		return nil
	}

	records, rejected := p.Normalize(ev.Text, raw, at)
	p.metrics.AddRecords(len(records), len(rejected))
	for _, verr := range rejected {
		log.Warn("pipeline: record rejected",
			zap.Int("index", verr.Index),
			zap.Strings("missing", verr.Missing),
			zap.Any("raw", verr.Raw),
		)
	}
	if len(records) == 0 {
		log.Info("pipeline: no valid records", zap.Int("extracted", len(raw)))
		return nil
	}

	art, err := p.store.UpsertArtifact(ctx, ev.ConversationID, msgDay, records)
	if err != nil {
		return eris.Wrapf(err, "pipeline: upsert artifact %s/%s", ev.ConversationID, msgDay)
	}
	log.Info("pipeline: artifact updated",
		zap.Int("accepted", len(records)),
		zap.Int("rejected", len(rejected)),
		zap.Int("total", len(art.Records)),
	)

	if p.exporter != nil {
		if err := p.exporter.Export(ctx, art); err != nil {
			log.Warn("pipeline: export failed", zap.Error(err))
		}
	}
	return nil
}

// Normalize applies header inheritance, vocabulary normalization, the unit
// heuristic and validation to raw records extracted from text posted at at.
func (p *Pipeline) Normalize(text string, raw []model.RawRecord, at time.Time) ([]model.Record, []*ValidationError) {
	h := parseHeader(text, p.vocab.Subdivisions, at)
	fallback := model.DayOf(at)

	var (
		valid    []model.Record
		rejected []*ValidationError
	)
	for i, r := range raw {
		rec := coerce(r, at)
		inherit(&rec, h, fallback)

		rec.Subdivision, _ = p.vocab.Subdivisions.Normalize(rec.Subdivision)
		rec.Category, _ = p.vocab.Operations.Normalize(rec.Category)
		rec.Subject, _ = p.vocab.Crops.Normalize(rec.Subject)

		rec.DailyYield = p.units.apply(rec.DailyYield)
		rec.TotalYield = p.units.apply(rec.TotalYield)

		if missing := rec.MissingFields(); len(missing) > 0 {
			rejected = append(rejected, &ValidationError{Index: i, Missing: missing, Raw: r})
			continue
		}
		valid = append(valid, rec)
	}
	return valid, rejected
}
