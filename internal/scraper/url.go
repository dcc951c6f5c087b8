package scraper

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// ExternalID parses the numeric id from the last path segment of a detail URL.
func ExternalID(rawURL string) (int64, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", vacancy.ErrMalformedDetailURL, rawURL, err)
	}
	segment := path.Base(strings.TrimRight(u.Path, "/"))
	id, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q has no numeric id", vacancy.ErrMalformedDetailURL, rawURL)
	}
	return id, nil
}

// SearchURL builds the listing URL for a region, query and zero-based page.
// The default region is served from the bare domain; every other region is a subdomain.
func (s *Scraper) SearchURL(region, query string, page int) string {
	host := s.cfg.BaseDomain
	if region != "" && region != s.cfg.DefaultRegion {
		host = region + "." + s.cfg.BaseDomain
	}
	u := url.URL{
		Scheme: s.cfg.Scheme,
		Host:   host,
		Path:   "/search/vacancy",
		RawQuery: url.Values{
			"text": {query},
			"page": {strconv.Itoa(page)},
		}.Encode(),
	}
	return u.String()
}

// resolve turns a listing href into an absolute URL.
func resolve(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return b.ResolveReference(ref).String(), nil
}
