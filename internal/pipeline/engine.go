// Package pipeline orchestrates one end-to-end analysis of a dataset:
// detection, scoring, thresholding, ring building, evaluation and
// explanation.
//
// An Engine is bound to one dataset. Its graph is built once in New and
// every Run over it is deterministic apart from the reported processing
// time.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/ringwatch/internal/detect"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/evaluate"
	"github.com/opensource-finance/ringwatch/internal/explain"
	"github.com/opensource-finance/ringwatch/internal/graph"
	"github.com/opensource-finance/ringwatch/internal/rings"
	"github.com/opensource-finance/ringwatch/internal/rules"
	"github.com/opensource-finance/ringwatch/internal/scoring"
	"github.com/opensource-finance/ringwatch/internal/stats"
)

var defaultTracer = otel.Tracer("ringwatch-pipeline")

// Engine runs the analysis pipeline over one dataset.
type Engine struct {
	ds    *domain.Dataset
	graph *graph.Graph
	stats graph.StatsIndex

	detection domain.DetectionConfig
	weights   scoring.Weights
	rules     *rules.Engine

	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Stage timings are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithDetection overrides the detector tunables.
func WithDetection(cfg domain.DetectionConfig) Option {
	return func(e *Engine) {
		e.detection = cfg
	}
}

// WithWeights overrides the scoring weights.
func WithWeights(w scoring.Weights) Option {
	return func(e *Engine) {
		e.weights = w
	}
}

// WithRules adds reason rules evaluated after the built-in reasons.
func WithRules(r *rules.Engine) Option {
	return func(e *Engine) {
		e.rules = r
	}
}

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// New builds the transaction graph of ds and returns an engine over it.
// A nil dataset is treated as empty.
func New(ds *domain.Dataset, opts ...Option) *Engine {
	if ds == nil {
		ds = &domain.Dataset{}
	}
	e := &Engine{
		ds:        ds,
		detection: domain.DefaultDetectionConfig(),
		weights:   scoring.DefaultWeights(),
		logger:    slog.Default(),
		tracer:    defaultTracer,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.graph = graph.New(ds.Transactions)
	e.stats = graph.ComputeStats(ds.Transactions)
	return e
}

// Graph returns the engine's transaction graph.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// accountMeta is what the pipeline aggregates per account before
// filtering: patterns in first-detection order and ring membership.
type accountMeta struct {
	patterns []string
	ringID   string
}

func (m *accountMeta) addPattern(tag string) {
	for _, p := range m.patterns {
		if p == tag {
			return
		}
	}
	m.patterns = append(m.patterns, tag)
}

// Run executes the pipeline. The first failing stage aborts the run.
func (e *Engine) Run(ctx context.Context) (*domain.Report, error) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("dataset", e.ds.Name),
			attribute.Int("transactions", e.ds.Len()),
			attribute.Int("accounts", e.graph.Len()),
		),
	)
	defer span.End()

	var (
		findings  domain.Findings
		breakdown *scoring.Breakdown
		threshold float64
		fraud     []domain.FraudRing
		metrics   *domain.EvalMetrics
		flagged   []domain.SuspiciousAccount
	)

	detector := detect.New(e.detection)
	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"cycles", func(context.Context) error {
			findings.Cycles = detector.Cycles(e.graph)
			return nil
		}},
		{"smurfing", func(context.Context) error {
			findings.Smurfing = detector.Smurfing(e.graph)
			return nil
		}},
		{"shells", func(context.Context) error {
			findings.Shells = detector.LayeredShells(e.graph)
			return nil
		}},
		{"scores", func(context.Context) error {
			breakdown = scoring.NewScorer(e.weights).Compute(e.graph, findings)
			return nil
		}},
		{"threshold", func(context.Context) error {
			threshold = scoring.AdaptiveThreshold(breakdown.Final)
			return nil
		}},
		{"rings", func(context.Context) error {
			fraud = rings.Build(findings, breakdown.Score)
			return nil
		}},
		{"evaluation", func(context.Context) error {
			metrics = e.evaluate(breakdown)
			return nil
		}},
		{"explain", func(ctx context.Context) error {
			var err error
			flagged, err = e.flag(ctx, findings, breakdown, threshold, fraud)
			return err
		}},
	}

	for _, s := range steps {
		if err := e.runStage(ctx, s.name, s.fn); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("pipeline stage %s: %w", s.name, err)
		}
	}

	report := &domain.Report{
		SuspiciousAccounts: flagged,
		FraudRings:         fraud,
		AccountScores:      breakdown.Scores(),
		EvalMetrics:        metrics,
		Summary: domain.Summary{
			TotalAccountsAnalyzed:     e.graph.Len(),
			SuspiciousAccountsFlagged: len(flagged),
			FraudRingsDetected:        len(fraud),
			ProcessingTimeSeconds:     stats.Round(time.Since(start).Seconds(), 3),
		},
		Threshold: threshold,
	}

	span.SetAttributes(
		attribute.Int("suspicious", len(flagged)),
		attribute.Int("rings", len(fraud)),
	)
	e.logger.Info("analysis complete",
		"dataset", e.ds.Name,
		"accounts", report.Summary.TotalAccountsAnalyzed,
		"suspicious", report.Summary.SuspiciousAccountsFlagged,
		"rings", report.Summary.FraudRingsDetected,
		"threshold", threshold,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

func (e *Engine) runStage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := e.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	e.logger.Debug("pipeline stage finished",
		"dataset", e.ds.Name,
		"stage", name,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (e *Engine) evaluate(b *scoring.Breakdown) *domain.EvalMetrics {
	if !e.ds.HasLabels || len(b.Accounts) == 0 {
		return nil
	}
	labels := evaluate.AccountLabels(b.Accounts, e.ds.Transactions)
	return evaluate.Evaluate(labels, b.Final)
}

// flag aggregates per-account metadata, keeps accounts at or above the
// threshold and explains each of them.
func (e *Engine) flag(ctx context.Context, f domain.Findings, b *scoring.Breakdown, threshold float64, fraud []domain.FraudRing) ([]domain.SuspiciousAccount, error) {
	meta := make(map[string]*accountMeta)
	get := func(id string) *accountMeta {
		m, ok := meta[id]
		if !ok {
			m = &accountMeta{}
			meta[id] = m
		}
		return m
	}
	for _, c := range f.Cycles {
		for _, a := range c.Accounts {
			get(a).addPattern(c.Pattern)
		}
	}
	for _, s := range f.Smurfing {
		get(s.Account).addPattern(s.Pattern)
	}
	for _, sh := range f.Shells {
		for _, a := range sh.Accounts {
			get(a).addPattern(sh.Pattern)
		}
	}
	for _, r := range fraud {
		for _, a := range r.MemberAccounts {
			get(a).ringID = r.RingID
		}
	}

	explainer := explain.New(e.rules, e.logger)
	flagged := []domain.SuspiciousAccount{}
	for i, acc := range b.Accounts {
		score := b.Final[i]
		if score < threshold {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m := get(acc)
		cleaned := make([]string, len(m.patterns))
		for k, p := range m.patterns {
			cleaned[k] = domain.CleanPattern(p)
		}

		activity := e.stats.Get(acc)
		var ringID *string
		if m.ringID != "" {
			id := m.ringID
			ringID = &id
		}

		flagged = append(flagged, domain.SuspiciousAccount{
			AccountID:      acc,
			SuspicionScore: score,
			RiskLevel:      scoring.RiskLevel(score),
			Reasons: explainer.Reasons(ctx, explain.Account{
				ID:        acc,
				Score:     score,
				InDegree:  e.graph.InDegree(i),
				OutDegree: e.graph.OutDegree(i),
				Degree:    e.graph.Degree(i),
				TotalTx:   activity.Total(),
				Patterns:  m.patterns,
				RingID:    m.ringID,
				Activity:  activity,
			}),
			DetectedPatterns: cleaned,
			RingID:           ringID,
		})
	}
	return flagged, nil
}

// SummaryTable builds the ring summary rows of a report produced by this
// engine.
func (e *Engine) SummaryTable(report *domain.Report) []domain.RingSummaryRow {
	if report == nil {
		return []domain.RingSummaryRow{}
	}
	score := func(a string) (float64, bool) {
		s, ok := report.AccountScores[a]
		return s, ok
	}
	return rings.Summary(e.graph, report.FraudRings, score)
}
