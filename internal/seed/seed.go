// Package seed loads the historical vacancy dataset into the store.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// DefaultBatchSize bounds the number of descriptors persisted per store transaction.
const DefaultBatchSize = 500

// Read parses id,name,skills rows. The header row is required and columns may come in
// any order. skills holds a set literal such as {go,'sql',docker}.
func Read(r io.Reader) ([]vacancy.Descriptor, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := columns(header)
	if err != nil {
		return nil, err
	}

	var out []vacancy.Descriptor
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(rec) < len(header) {
			return nil, fmt.Errorf("line %d: want %d fields, got %d", line, len(header), len(rec))
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rec[cols["id"]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse id: %w", line, err)
		}
		out = append(out, vacancy.Descriptor{
			ExternalID: id,
			Name:       strings.TrimSpace(rec[cols["name"]]),
			Skills:     ParseSkills(rec[cols["skills"]]),
		})
	}
}

func columns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, want := range []string{"id", "name", "skills"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("missing %q column", want)
		}
	}
	return cols, nil
}

// ParseSkills splits a {a,b,c} literal into distinct, trimmed names in input order.
// An element may open with ' or " to carry commas, and a backslash inside quotes
// escapes the next character. Apostrophes inside unquoted names are kept.
func ParseSkills(literal string) []string {
	literal = strings.TrimSpace(literal)
	literal = strings.TrimSuffix(strings.TrimPrefix(literal, "{"), "}")
	seen := make(map[string]struct{})
	var out []string
	for _, part := range splitElements(literal) {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// splitElements splits on commas outside quotes and drops the enclosing quotes.
func splitElements(s string) []string {
	var (
		parts   []string
		cur     strings.Builder
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0 && r == '\\':
			escaped = true
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\'') && strings.TrimSpace(cur.String()) == "":
			quote = r
		case quote == 0 && r == ',':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(parts, cur.String())
}

// Summary counts what a Load call wrote.
type Summary struct {
	Rows     int
	Inserted int
	Existing int
}

// Load persists descriptors in batches. Rows already stored are reported as existing, so
// loading the same dataset twice inserts nothing the second time.
func Load(ctx context.Context, store vacancy.Store, descriptors []vacancy.Descriptor, batchSize int, logger *zap.Logger) (Summary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var sum Summary
	for start := 0; start < len(descriptors); start += batchSize {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("seed stopped at row %d: %w", start, err)
		}
		end := min(start+batchSize, len(descriptors))
		persisted, err := store.UpsertVacancies(ctx, descriptors[start:end])
		if err != nil {
			return sum, fmt.Errorf("seed rows %d-%d: %w", start, end-1, err)
		}
		for _, p := range persisted {
			if p.Existing {
				sum.Existing++
			} else {
				sum.Inserted++
			}
		}
		sum.Rows += end - start
		logger.Info("seed batch stored", zap.Int("rows", sum.Rows), zap.Int("inserted", sum.Inserted))
	}
	return sum, nil
}
