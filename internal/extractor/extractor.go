// Package extractor reconstructs skill phrases from a token labeling model.
package extractor

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/metrics"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// DefaultChunkSize bounds the words sent to the labeler per call.
const DefaultChunkSize = 500

// Extractor splits text into chunks, labels each chunk and merges the labels into phrases.
//
// Chunks are labeled independently. A phrase that straddles a chunk boundary comes back
// as two fragments.
type Extractor struct {
	labeler   vacancy.TokenLabeler
	chunkSize int
	logger    *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithLogger sets the extractor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Extractor. A non-positive chunkSize falls back to DefaultChunkSize.
func New(labeler vacancy.TokenLabeler, chunkSize int, opts ...Option) *Extractor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	e := &Extractor{labeler: labeler, chunkSize: chunkSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractSkills returns the sorted, case-insensitively distinct phrases found in text.
// A labeler failure aborts the call and is wrapped with vacancy.ErrModelCapability.
func (e *Extractor) ExtractSkills(ctx context.Context, text string) ([]string, error) {
	chunks := Chunks(text, e.chunkSize)
	if len(chunks) == 0 {
		return []string{}, nil
	}

	var merged []string
	for i, chunk := range chunks {
		tokens, err := e.labeler.Label(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("%w: label chunk %d: %w", vacancy.ErrModelCapability, i, err)
		}
		phrases, issues := MergeTokens(tokens)
		for _, issue := range issues {
			metrics.ObserveLabelingInconsistency()
			e.logger.Warn("inside label without a start",
				zap.String("word", issue.Word),
				zap.String("label", issue.Label),
				zap.String("previous_label", issue.PrevLabel),
				zap.Int("chunk", i),
			)
		}
		merged = append(merged, phrases...)
	}
	return finalize(merged), nil
}

// Chunks splits text into windows of at most size whitespace-separated words.
func Chunks(text string, size int) []string {
	words := strings.Fields(text)
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]string, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
