// Package pipeline runs ingestion batches: scrape, extract, cluster, canonicalize, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vacancy-ingest/internal/cluster"
	"github.com/JakeFAU/vacancy-ingest/internal/metrics"
	"github.com/JakeFAU/vacancy-ingest/internal/normalize"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Scraper returns the raw vacancies of an inclusive page range.
type Scraper interface {
	ParseRange(ctx context.Context, region, query string, pageStart, pageEnd int) ([]vacancy.RawVacancy, error)
}

// SkillExtractor finds skill phrases in free text.
type SkillExtractor interface {
	ExtractSkills(ctx context.Context, text string) ([]string, error)
}

// SkillClusterer groups phrases under canonical labels.
type SkillClusterer interface {
	Cluster(ctx context.Context, phrases []string) (cluster.Result, error)
}

// Canonicalizer reduces a canonical label to its stored form.
type Canonicalizer interface {
	Canonical(label string) string
}

// CanonicalizerFunc adapts a function to Canonicalizer.
type CanonicalizerFunc func(string) string

// Canonical calls f.
func (f CanonicalizerFunc) Canonical(label string) string { return f(label) }

// Config sizes batches and fan-out.
type Config struct {
	BatchPages         int
	ExtractConcurrency int
	DefaultRegion      string
	DefaultQuery       string
	// Topic receives a BatchEvent after every committed batch when a publisher is set.
	Topic string
}

// BatchReport summarizes one committed batch.
type BatchReport struct {
	PageStart int
	PageEnd   int
	Scraped   int
	Persisted int
	New       int
}

// Pipeline turns listing page ranges into persisted vacancies.
type Pipeline struct {
	cfg       Config
	scraper   Scraper
	extractor SkillExtractor
	clusterer SkillClusterer
	canon     Canonicalizer
	store     vacancy.Store

	publisher vacancy.Publisher
	clock     vacancy.Clock
	progress  func(BatchReport)
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublisher publishes a BatchEvent to cfg.Topic after every committed batch.
func WithPublisher(pub vacancy.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithClock overrides the clock used to stamp events.
func WithClock(clock vacancy.Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithProgress registers a callback invoked after every committed batch.
func WithProgress(fn func(BatchReport)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// New wires a Pipeline. A nil canonicalizer keeps labels unchanged.
func New(
	cfg Config,
	scraper Scraper,
	extractor SkillExtractor,
	clusterer SkillClusterer,
	canon Canonicalizer,
	store vacancy.Store,
	opts ...Option,
) *Pipeline {
	if cfg.BatchPages <= 0 {
		cfg.BatchPages = 10
	}
	if cfg.ExtractConcurrency <= 0 {
		cfg.ExtractConcurrency = 1
	}
	if canon == nil {
		canon = CanonicalizerFunc(func(s string) string { return s })
	}
	p := &Pipeline{
		cfg:       cfg,
		scraper:   scraper,
		extractor: extractor,
		clusterer: clusterer,
		canon:     canon,
		store:     store,
		clock:     wallClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes [PageStart, PageEnd] in sequential batches of BatchPages pages.
//
// A batch is never interrupted once started: it runs detached from ctx cancellation, and
// ctx is only checked before each batch. When a batch fails or ctx is done, Run returns
// the results of the batches already committed together with the error.
func (p *Pipeline) Run(ctx context.Context, req vacancy.RunRequest) ([]vacancy.Result, error) {
	return p.RunWithProgress(ctx, req, p.progress)
}

// RunWithProgress is Run with a per-call progress callback replacing the configured one.
func (p *Pipeline) RunWithProgress(ctx context.Context, req vacancy.RunRequest, progress func(BatchReport)) ([]vacancy.Result, error) {
	if req.PageStart < 0 || req.PageEnd < req.PageStart {
		return nil, fmt.Errorf("%w: [%d, %d]", vacancy.ErrInvalidRange, req.PageStart, req.PageEnd)
	}
	if req.Region == "" {
		req.Region = p.cfg.DefaultRegion
	}
	if req.Query == "" {
		req.Query = p.cfg.DefaultQuery
	}

	logger := p.logger.With(zap.String("run_id", req.RunID), zap.String("region", req.Region), zap.String("query", req.Query))
	results := []vacancy.Result{}
	for start := req.PageStart; start <= req.PageEnd; start += p.cfg.BatchPages {
		if err := ctx.Err(); err != nil {
			logger.Info("run stopped between batches", zap.Int("next_page", start), zap.Error(err))
			return results, fmt.Errorf("%w before page %d: %w", ErrRunStopped, start, err)
		}
		end := min(start+p.cfg.BatchPages-1, req.PageEnd)

		began := time.Now()
		batch, report, err := p.runBatch(context.WithoutCancel(ctx), req, start, end)
		if err != nil {
			metrics.ObserveBatch("failed", time.Since(began))
			logger.Error("batch failed", zap.Int("page_start", start), zap.Int("page_end", end), zap.Error(err))
			return results, fmt.Errorf("batch [%d, %d]: %w", start, end, err)
		}
		metrics.ObserveBatch("committed", time.Since(began))
		metrics.ObservePersisted(report.New, report.Persisted-report.New)
		logger.Info("batch committed",
			zap.Int("page_start", start),
			zap.Int("page_end", end),
			zap.Int("scraped", report.Scraped),
			zap.Int("persisted", report.Persisted),
			zap.Int("new", report.New),
			zap.Duration("duration", time.Since(began)),
		)
		results = append(results, batch...)
		p.publishBatch(context.WithoutCancel(ctx), req.RunID, report)
		if progress != nil {
			progress(report)
		}
	}
	return results, nil
}

func (p *Pipeline) runBatch(ctx context.Context, req vacancy.RunRequest, start, end int) ([]vacancy.Result, BatchReport, error) {
	report := BatchReport{PageStart: start, PageEnd: end}

	raws, err := p.scraper.ParseRange(ctx, req.Region, req.Query, start, end)
	if err != nil {
		return nil, report, fmt.Errorf("scrape: %w", err)
	}
	report.Scraped = len(raws)
	raws = DedupeByExternalID(raws)

	skills, err := p.extractAll(ctx, raws)
	if err != nil {
		return nil, report, err
	}

	var all []string
	for _, s := range skills {
		all = append(all, s...)
	}
	clusters, err := p.clusterer.Cluster(ctx, all)
	if err != nil {
		return nil, report, fmt.Errorf("cluster skills: %w", err)
	}
	labels := p.canonicalLookup(clusters)

	kept := make([]vacancy.RawVacancy, 0, len(raws))
	descriptors := make([]vacancy.Descriptor, 0, len(raws))
	for i, raw := range raws {
		rewritten := Rewrite(skills[i], labels)
		if len(rewritten) == 0 {
			p.logger.Debug("vacancy has no skills", zap.Int64("external_id", raw.ExternalID))
			continue
		}
		raw.Skills = rewritten
		kept = append(kept, raw)
		descriptors = append(descriptors, vacancy.Descriptor{Name: raw.Title, ExternalID: raw.ExternalID, Skills: rewritten})
	}
	if len(descriptors) == 0 {
		return []vacancy.Result{}, report, nil
	}

	persisted, err := p.store.UpsertVacancies(ctx, descriptors)
	if err != nil {
		return nil, report, fmt.Errorf("persist vacancies: %w", err)
	}
	if len(persisted) != len(kept) {
		return nil, report, fmt.Errorf("store returned %d rows for %d vacancies", len(persisted), len(kept))
	}

	out := make([]vacancy.Result, len(kept))
	for i, raw := range kept {
		out[i] = vacancy.Result{
			SourceURL:   raw.URL,
			ExternalID:  raw.ExternalID,
			Title:       raw.Title,
			Salary:      raw.Salary,
			Experience:  raw.Experience,
			WorkFormat:  raw.WorkFormat,
			Description: raw.Description,
			Skills:      raw.Skills,
			Persisted:   persisted[i],
		}
		if !persisted[i].Existing {
			report.New++
		}
	}
	report.Persisted = len(out)
	return out, report, nil
}

// extractAll returns, per vacancy, its scraped skills followed by the extracted ones.
func (p *Pipeline) extractAll(ctx context.Context, raws []vacancy.RawVacancy) ([][]string, error) {
	out := make([][]string, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ExtractConcurrency)
	for i, raw := range raws {
		g.Go(func() error {
			var extracted []string
			if raw.Description != "" {
				var err error
				extracted, err = p.extractor.ExtractSkills(gctx, raw.Description)
				if err != nil {
					return fmt.Errorf("extract skills for %d: %w", raw.ExternalID, err)
				}
			}
			out[i] = union(raw.Skills, extracted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// canonicalLookup maps every clustered phrase to its normalized canonical label.
func (p *Pipeline) canonicalLookup(res cluster.Result) map[string]string {
	canon := make(map[string]string, len(res.Combined))
	for _, label := range res.Combined {
		canon[label] = p.canon.Canonical(label)
	}
	lookup := res.Lookup()
	for phrase, label := range lookup {
		lookup[phrase] = canon[label]
	}
	return lookup
}

func (p *Pipeline) publishBatch(ctx context.Context, runID string, report BatchReport) {
	if p.publisher == nil {
		return
	}
	event := BatchEvent{
		RunID:       runID,
		PageStart:   report.PageStart,
		PageEnd:     report.PageEnd,
		Vacancies:   report.Persisted,
		New:         report.New,
		PersistedAt: p.clock.Now(),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		p.logger.Warn("publish batch event failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// DedupeByExternalID keeps one record per external id. The last record wins but takes the
// position of the first.
func DedupeByExternalID(raws []vacancy.RawVacancy) []vacancy.RawVacancy {
	index := make(map[int64]int, len(raws))
	out := make([]vacancy.RawVacancy, 0, len(raws))
	for _, raw := range raws {
		if i, ok := index[raw.ExternalID]; ok {
			out[i] = raw
			continue
		}
		index[raw.ExternalID] = len(out)
		out = append(out, raw)
	}
	return out
}

// Rewrite maps raw skills through lookup and returns the sorted distinct labels.
// Skills without a label are dropped.
func Rewrite(skills []string, lookup map[string]string) []string {
	set := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		label, ok := lookup[normalize.Phrase(s)]
		if !ok || label == "" {
			continue
		}
		set[label] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for label := range set {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// ErrRunStopped marks a Run that ended because its context was done between batches.
// Timeouts inside a batch, such as a slow model endpoint, are batch failures instead.
var ErrRunStopped = errors.New("run stopped")

// IsCanceled reports whether a Run error came from ctx cancellation between batches.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrRunStopped)
}
