// Package analysis runs uploaded transaction files through the detection
// pipeline and takes care of everything around it: result caching, report
// persistence, event publication and metrics.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/ringwatch/internal/bus"
	"github.com/opensource-finance/ringwatch/internal/domain"
	"github.com/opensource-finance/ringwatch/internal/ingest"
	"github.com/opensource-finance/ringwatch/internal/metrics"
	"github.com/opensource-finance/ringwatch/internal/pipeline"
	"github.com/opensource-finance/ringwatch/internal/rules"
)

var tracer = otel.Tracer("ringwatch-analysis")

// ErrNoBus is returned by Submit when no event bus is configured.
var ErrNoBus = errors.New("async analysis requires an event bus")

// reportSuffix is appended to a file stem to form its report name.
const reportSuffix = "_analysis"

// Upload is one file of a multi-file request.
type Upload struct {
	Name    string
	Content []byte
}

// Service analyzes uploaded files. Repository, cache, bus and metrics are
// optional; a nil dependency disables that concern.
type Service struct {
	repo    domain.ReportRepository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Metrics
	rules   *rules.Engine

	detection domain.DetectionConfig
	resultTTL time.Duration
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithRepository(r domain.ReportRepository) Option { return func(s *Service) { s.repo = r } }
func WithCache(c domain.Cache) Option                 { return func(s *Service) { s.cache = c } }
func WithBus(b domain.EventBus) Option                { return func(s *Service) { s.bus = b } }
func WithMetrics(m *metrics.Metrics) Option           { return func(s *Service) { s.metrics = m } }
func WithRules(r *rules.Engine) Option                { return func(s *Service) { s.rules = r } }

// WithDetection overrides the detector tunables passed to every run.
func WithDetection(cfg domain.DetectionConfig) Option {
	return func(s *Service) { s.detection = cfg }
}

// WithResultTTL sets how long finished results stay cached.
func WithResultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resultTTL = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{
		detection: domain.DefaultDetectionConfig(),
		resultTTL: 24 * time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReportName derives the stored report name from an upload name: the part
// before the first dot, suffixed with "_analysis".
func ReportName(fileName string) string {
	stem := fileName
	if i := strings.LastIndexAny(stem, `/\`); i >= 0 {
		stem = stem[i+1:]
	}
	if i := strings.Index(stem, "."); i >= 0 {
		stem = stem[:i]
	}
	return stem + reportSuffix
}

// DownloadPath is the HTTP path serving the named report.
func DownloadPath(name string) string {
	return "/download/" + name + ".json"
}

// resultKey is the cache key of content analyzed under the current detection
// settings and reason rules. Changing either yields a different key.
func (s *Service) resultKey(content []byte) string {
	h := sha256.New()
	h.Write(content)
	fmt.Fprintf(h, "\x00detection:%d:%d:%d",
		s.detection.FanThreshold,
		s.detection.ShellMaxOutDegree,
		s.detection.ShellMaxChainsPerNode,
	)
	if s.rules != nil {
		for _, r := range s.rules.GetLoadedRules() {
			fmt.Fprintf(h, "\x00rule:%s\x00%s\x00%s", r.ID, r.Expression, r.Reason)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// prepared is an upload that passed validation: either a cached result or a
// parsed dataset ready for the pipeline.
type prepared struct {
	fileName string
	name     string
	key      string
	cached   *domain.FileResult
	dataset  *domain.Dataset
}

// Analyze runs one file and returns its result.
func (s *Service) Analyze(ctx context.Context, fileName string, content []byte) (*domain.FileResult, error) {
	return s.analyze(ctx, "", fileName, content)
}

// AnalyzeFiles validates every file before analyzing any of them, so a
// request with one bad file saves no report and publishes no result event.
// Files are then analyzed one after another in the given order.
func (s *Service) AnalyzeFiles(ctx context.Context, files []Upload) (map[string]*domain.FileResult, error) {
	batch := make([]*prepared, 0, len(files))
	for _, f := range files {
		p, err := s.prepare(ctx, f.Name, f.Content)
		if err != nil {
			s.fail(ctx, "", f.Name, err)
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		batch = append(batch, p)
	}

	results := make(map[string]*domain.FileResult, len(batch))
	for _, p := range batch {
		res, err := s.finish(ctx, "", p)
		if err != nil {
			return results, fmt.Errorf("%s: %w", p.fileName, err)
		}
		results[p.fileName] = res
	}
	return results, nil
}

// Process runs an async analysis job.
func (s *Service) Process(ctx context.Context, job domain.AnalysisJob) (*domain.FileResult, error) {
	return s.analyze(ctx, job.JobID, job.FileName, job.Content)
}

// Submit queues a file for async analysis and returns the job id.
func (s *Service) Submit(ctx context.Context, fileName string, content []byte) (string, error) {
	if s.bus == nil {
		return "", ErrNoBus
	}
	if !ingest.IsCSV(fileName) {
		return "", fmt.Errorf("%s: %w", fileName, domain.ErrUnsupportedFile)
	}

	job := domain.AnalysisJob{
		JobID:    uuid.New().String(),
		FileName: fileName,
		Content:  content,
	}
	if err := bus.PublishJSON(ctx, s.bus, domain.TopicAnalysisRequested, job); err != nil {
		return "", err
	}

	s.logger.Info("analysis queued",
		"job_id", job.JobID,
		"file", fileName,
		"bytes", len(content),
	)
	return job.JobID, nil
}

func (s *Service) analyze(ctx context.Context, jobID, fileName string, content []byte) (*domain.FileResult, error) {
	p, err := s.prepare(ctx, fileName, content)
	if err != nil {
		s.fail(ctx, jobID, fileName, err)
		return nil, err
	}
	return s.finish(ctx, jobID, p)
}

// prepare checks the file type, looks up a cached result and otherwise
// parses content. Nothing is saved or published.
func (s *Service) prepare(ctx context.Context, fileName string, content []byte) (*prepared, error) {
	if !ingest.IsCSV(fileName) {
		return nil, fmt.Errorf("%s: %w", fileName, domain.ErrUnsupportedFile)
	}

	p := &prepared{
		fileName: fileName,
		name:     ReportName(fileName),
		key:      s.resultKey(content),
	}
	if res := s.lookup(ctx, p.key); res != nil {
		p.cached = res
		return p, nil
	}

	ds, err := ingest.Parse(fileName, content)
	if err != nil {
		return nil, err
	}
	if n := ds.Coercion.Total(); n > 0 {
		s.logger.Warn("coerced invalid values",
			"file", fileName,
			"invalid_amounts", ds.Coercion.InvalidAmounts,
			"invalid_timestamps", ds.Coercion.InvalidTimestamps,
		)
		if s.metrics != nil {
			s.metrics.ObserveCoercion(ds.Coercion)
		}
	}
	p.dataset = ds
	return p, nil
}

// fail records a rejected or failed file.
func (s *Service) fail(ctx context.Context, jobID, fileName string, err error) {
	status := metrics.StatusFailed
	if domain.IsSchemaError(err) || errors.Is(err, domain.ErrEmptyInput) || errors.Is(err, domain.ErrUnsupportedFile) {
		status = metrics.StatusInvalid
	}
	s.observe(status, 0, nil)
	s.logger.Warn("analysis failed",
		"file", fileName,
		"job_id", jobID,
		"error", err,
	)
	s.publish(ctx, domain.TopicAnalysisCompleted, domain.AnalysisCompleted{
		JobID:    jobID,
		FileName: fileName,
		Error:    err.Error(),
	})
}

func (s *Service) finish(ctx context.Context, jobID string, p *prepared) (*domain.FileResult, error) {
	ctx, span := tracer.Start(ctx, "analysis.file",
		trace.WithAttributes(
			attribute.String("file", p.fileName),
			attribute.Bool("cached", p.cached != nil),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := s.run(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.fail(ctx, jobID, p.fileName, err)
		return nil, err
	}

	cached := p.cached != nil
	if cached {
		s.observe(metrics.StatusCached, 0, nil)
	} else {
		s.observe(metrics.StatusOK, time.Since(start), res.Report)
	}

	s.publish(ctx, domain.TopicAnalysisCompleted, domain.AnalysisCompleted{
		JobID:      jobID,
		FileName:   p.fileName,
		ReportName: p.name,
		Summary:    res.Report.Summary,
		Cached:     cached,
	})
	for _, ring := range res.Report.FraudRings {
		s.publish(ctx, domain.TopicRingDetected, domain.RingDetected{FileName: p.fileName, Ring: ring})
	}

	s.logger.Info("analysis complete",
		"file", p.fileName,
		"job_id", jobID,
		"report", p.name,
		"cached", cached,
		"accounts", res.Report.Summary.TotalAccountsAnalyzed,
		"suspicious", res.Report.Summary.SuspiciousAccountsFlagged,
		"rings", res.Report.Summary.FraudRingsDetected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// run turns a prepared upload into a saved result.
func (s *Service) run(ctx context.Context, p *prepared) (*domain.FileResult, error) {
	if res := p.cached; res != nil {
		res.Cached = true
		res.SavedTo = ""
		if err := s.save(ctx, p.fileName, p.name, res); err != nil {
			return nil, err
		}
		return res, nil
	}

	engine := pipeline.New(p.dataset,
		pipeline.WithLogger(s.logger),
		pipeline.WithDetection(s.detection),
		pipeline.WithRules(s.rules),
	)
	report, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}

	res := &domain.FileResult{
		Report:  report.Public(),
		Summary: engine.SummaryTable(report),
	}
	if err := s.save(ctx, p.fileName, p.name, res); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetResult(ctx, p.key, res, s.resultTTL); err != nil {
			s.logger.Warn("failed to cache result", "file", p.fileName, "error", err)
		}
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, key string) *domain.FileResult {
	if s.cache == nil {
		return nil
	}
	res, err := s.cache.GetResult(ctx, key)
	switch {
	case err != nil:
		s.observeCache(metrics.CacheError)
		s.logger.Warn("result cache lookup failed", "key", key, "error", err)
		return nil
	case res == nil || res.Report == nil:
		s.observeCache(metrics.CacheMiss)
		return nil
	}
	s.observeCache(metrics.CacheHit)
	return res
}

// save persists res under name and records where it can be downloaded.
func (s *Service) save(ctx context.Context, fileName, name string, res *domain.FileResult) error {
	if s.repo == nil {
		return nil
	}
	err := s.repo.SaveReport(ctx, &domain.StoredReport{
		Name:      name,
		FileName:  fileName,
		Report:    res.Report,
		Summary:   res.Summary,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", name, err)
	}
	res.SavedTo = DownloadPath(name)
	return nil
}

// publish sends an event when a bus is configured. Failures are logged;
// they never fail the analysis.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func (s *Service) observe(status string, d time.Duration, report *domain.Report) {
	if s.metrics != nil {
		s.metrics.ObserveAnalysis(status, d, report)
	}
}

func (s *Service) observeCache(result string) {
	if s.metrics != nil {
		s.metrics.ObserveCache(result)
	}
}
