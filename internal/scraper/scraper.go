// Package scraper collects raw vacancy records from the listing site.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Config describes the listing site and fan-out limits.
type Config struct {
	BaseDomain    string
	Scheme        string
	DefaultRegion string
	Concurrency   int
	AdHosts       []string
}

// Scraper fetches listing and detail pages and turns them into RawVacancy records.
type Scraper struct {
	cfg     Config
	fetcher vacancy.Fetcher
	ads     *hostBlocklist
	logger  *zap.Logger

	archive            vacancy.BlobStore
	hasher             vacancy.Hasher
	archivePrefix      string
	archiveContentType string
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithLogger sets the scraper logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchive stores every fetched detail page body under prefix/<externalID>/<hash>.html.
func WithArchive(store vacancy.BlobStore, hasher vacancy.Hasher, prefix, contentType string) Option {
	return func(s *Scraper) {
		s.archive = store
		s.hasher = hasher
		s.archivePrefix = strings.Trim(prefix, "/")
		s.archiveContentType = contentType
	}
}

// New constructs a Scraper.
func New(cfg Config, fetcher vacancy.Fetcher, opts ...Option) *Scraper {
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	s := &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		ads:     newHostBlocklist(cfg.AdHosts),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPage returns the absolute detail URLs on one listing page.
// A page that cannot be fetched yields no URLs.
func (s *Scraper) ListPage(ctx context.Context, region, query string, page int) ([]string, error) {
	searchURL := s.SearchURL(region, query, page)
	doc, _, err := s.document(ctx, searchURL)
	if err != nil {
		if errors.Is(err, vacancy.ErrEmptyPage) {
			return nil, nil
		}
		return nil, err
	}

	hrefs := listingHrefs(doc)
	urls := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		abs, err := resolve(searchURL, href)
		if err != nil {
			s.logger.Warn("skip unparsable listing href", zap.String("href", href), zap.Error(err))
			continue
		}
		urls = append(urls, abs)
	}
	s.logger.Debug("listing page parsed", zap.String("url", searchURL), zap.Int("links", len(urls)))
	return urls, nil
}

// DetailPage fetches one vacancy page and extracts its fields.
func (s *Scraper) DetailPage(ctx context.Context, rawURL string) (vacancy.RawVacancy, error) {
	id, err := ExternalID(rawURL)
	if err != nil {
		return vacancy.RawVacancy{}, err
	}
	doc, body, err := s.document(ctx, rawURL)
	if err != nil {
		return vacancy.RawVacancy{}, err
	}

	raw := vacancy.RawVacancy{URL: rawURL, ExternalID: id}
	extractDetail(doc, &raw)
	raw.ArchiveURI = s.archivePage(ctx, id, body)
	return raw, nil
}

// ParseRange scrapes every listing page in [pageStart, pageEnd] and every vacancy they link to.
// Output follows page order, then link order within a page. Pages that cannot be fetched
// and links without a numeric id are dropped.
func (s *Scraper) ParseRange(ctx context.Context, region, query string, pageStart, pageEnd int) ([]vacancy.RawVacancy, error) {
	if pageStart < 0 || pageEnd < pageStart {
		return nil, fmt.Errorf("%w: [%d, %d]", vacancy.ErrInvalidRange, pageStart, pageEnd)
	}

	listings := make([][]string, pageEnd-pageStart+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range listings {
		g.Go(func() error {
			urls, err := s.ListPage(gctx, region, query, pageStart+i)
			if err != nil {
				return err
			}
			listings[i] = urls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var urls []string
	for _, page := range listings {
		for _, u := range page {
			if s.ads.IsBlocked(u) {
				s.logger.Debug("skip ad link", zap.String("url", u))
				continue
			}
			urls = append(urls, u)
		}
	}

	details := make([]*vacancy.RawVacancy, len(urls))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			raw, err := s.DetailPage(gctx, u)
			switch {
			case err == nil:
				details[i] = &raw
			case errors.Is(err, vacancy.ErrMalformedDetailURL):
				s.logger.Warn("skip malformed detail url", zap.String("url", u), zap.Error(err))
			case errors.Is(err, vacancy.ErrEmptyPage):
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detail pages: %w", err)
	}

	out := make([]vacancy.RawVacancy, 0, len(details))
	for _, raw := range details {
		if raw != nil {
			out = append(out, *raw)
		}
	}
	s.logger.Info("range scraped",
		zap.String("region", region),
		zap.Int("page_start", pageStart),
		zap.Int("page_end", pageEnd),
		zap.Int("links", len(urls)),
		zap.Int("vacancies", len(out)),
	)
	return out, nil
}

// document fetches and parses a page. Fetch failures are logged and reported as ErrEmptyPage.
func (s *Scraper) document(ctx context.Context, rawURL string) (*goquery.Document, []byte, error) {
	page, err := s.fetcher.Fetch(ctx, vacancy.FetchRequest{URL: rawURL})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, fmt.Errorf("fetch %s: %w", rawURL, ctxErr)
		}
		s.logger.Warn("page yielded no document", zap.String("url", rawURL), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: %w", vacancy.ErrEmptyPage, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		s.logger.Warn("page is not parsable html", zap.String("url", rawURL), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: parse %s: %w", vacancy.ErrEmptyPage, rawURL, err)
	}
	return doc, page.Body, nil
}

func (s *Scraper) archivePage(ctx context.Context, id int64, body []byte) string {
	if s.archive == nil || s.hasher == nil {
		return ""
	}
	hash, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("hash detail page failed", zap.Int64("external_id", id), zap.Error(err))
		return ""
	}
	path := fmt.Sprintf("%d/%s.html", id, hash)
	if s.archivePrefix != "" {
		path = s.archivePrefix + "/" + path
	}
	uri, err := s.archive.PutObject(ctx, path, s.archiveContentType, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("archive detail page failed", zap.Int64("external_id", id), zap.Error(err))
		return ""
	}
	return uri
}
