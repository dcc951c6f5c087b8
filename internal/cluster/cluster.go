// Package cluster groups near-duplicate skill phrases under canonical labels.
package cluster

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/normalize"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Config holds the neighborhood radii and refinement limits.
type Config struct {
	// Eps is the cosine distance radius of the first pass.
	Eps float64
	// RefineEps is the radius used to split clusters larger than MaxClusterSize.
	RefineEps float64
	// MaxClusterSize is the largest cluster that collapses to one label.
	MaxClusterSize int
	// MaxRefineDepth bounds how many times an oversized cluster is split again.
	MaxRefineDepth int
}

// DefaultConfig returns the production radii.
func DefaultConfig() Config {
	return Config{Eps: 0.0003, RefineEps: 0.0001, MaxClusterSize: 10, MaxRefineDepth: 1}
}

// Result maps every canonical label to the phrases it absorbed.
type Result struct {
	Clusters map[string][]string
	Combined []string
}

// Lookup returns the canonical label of every clustered phrase.
func (r Result) Lookup() map[string]string {
	out := make(map[string]string)
	for label, members := range r.Clusters {
		for _, m := range members {
			out[m] = label
		}
	}
	return out
}

// Clusterer embeds phrases and groups them by cosine distance.
//
// With a minimum cluster size of one every phrase is a core point, so density clustering
// reduces to the connected components of the graph linking phrases within Eps.
type Clusterer struct {
	embedder vacancy.Embedder
	cfg      Config
	logger   *zap.Logger
}

// Option customizes a Clusterer.
type Option func(*Clusterer)

// WithLogger sets the clusterer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Clusterer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Clusterer. Zero config fields take DefaultConfig values.
func New(embedder vacancy.Embedder, cfg Config, opts ...Option) *Clusterer {
	def := DefaultConfig()
	if cfg.Eps <= 0 {
		cfg.Eps = def.Eps
	}
	if cfg.RefineEps <= 0 {
		cfg.RefineEps = def.RefineEps
	}
	if cfg.MaxClusterSize <= 0 {
		cfg.MaxClusterSize = def.MaxClusterSize
	}
	if cfg.MaxRefineDepth < 0 {
		cfg.MaxRefineDepth = 0
	}
	c := &Clusterer{embedder: embedder, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cluster normalizes phrases, embeds them in one call and assigns canonical labels.
func (c *Clusterer) Cluster(ctx context.Context, phrases []string) (Result, error) {
	names := distinct(phrases)
	res := Result{Clusters: make(map[string][]string), Combined: []string{}}
	if len(names) == 0 {
		return res, nil
	}

	raw, err := c.embedder.Embed(ctx, names)
	if err != nil {
		return Result{}, fmt.Errorf("%w: embed %d phrases: %w", vacancy.ErrModelCapability, len(names), err)
	}
	vectors, err := toVectors(raw, len(names))
	if err != nil {
		return Result{}, err
	}

	all := make([]int, len(names))
	for i := range all {
		all[i] = i
	}
	initial := components(vectors, all, c.cfg.Eps)
	for _, members := range initial {
		c.assign(res.Clusters, names, vectors, members, 0)
	}

	for label, members := range res.Clusters {
		sort.Strings(members)
		res.Clusters[label] = members
		res.Combined = append(res.Combined, label)
	}
	sort.Strings(res.Combined)
	c.logger.Debug("phrases clustered",
		zap.Int("phrases", len(names)),
		zap.Int("initial_clusters", len(initial)),
		zap.Int("labels", len(res.Combined)),
	)
	return res, nil
}

// assign collapses a cluster to its smallest member, splits it with RefineEps, or maps
// every member to itself once the refinement depth is spent.
func (c *Clusterer) assign(out map[string][]string, names []string, vectors [][]float64, members []int, depth int) {
	if len(members) <= c.cfg.MaxClusterSize {
		// members are ascending indices into the sorted names.
		label := names[members[0]]
		for _, m := range members {
			out[label] = append(out[label], names[m])
		}
		return
	}
	if depth < c.cfg.MaxRefineDepth {
		for _, sub := range components(vectors, members, c.cfg.RefineEps) {
			c.assign(out, names, vectors, sub, depth+1)
		}
		return
	}
	c.logger.Debug("cluster too large to merge", zap.Int("size", len(members)), zap.Int("depth", depth))
	for _, m := range members {
		out[names[m]] = append(out[names[m]], names[m])
	}
}

// distinct normalizes, drops empties and sorts.
func distinct(phrases []string) []string {
	seen := make(map[string]struct{}, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = normalize.Phrase(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func toVectors(raw [][]float32, want int) ([][]float64, error) {
	if len(raw) != want {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d phrases", vacancy.ErrModelCapability, len(raw), want)
	}
	dim := len(raw[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: embedder returned empty vectors", vacancy.ErrModelCapability)
	}
	out := make([][]float64, len(raw))
	for i, v := range raw {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", vacancy.ErrModelCapability, i, len(v), dim)
		}
		out[i] = make([]float64, dim)
		for j, x := range v {
			out[i][j] = float64(x)
		}
	}
	return out, nil
}
