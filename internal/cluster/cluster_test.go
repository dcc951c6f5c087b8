package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// angleEmbedder places every phrase on the unit circle at a fixed angle.
type angleEmbedder struct {
	angles map[string]float64
	calls  int32
	err    error
	short  bool
}

func (e *angleEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		theta, ok := e.angles[t]
		if !ok {
			return nil, fmt.Errorf("no angle for %q", t)
		}
		out = append(out, []float32{float32(math.Cos(theta)), float32(math.Sin(theta))})
	}
	if e.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func TestClusterMergesNeighbors(t *testing.T) {
	t.Parallel()

	e := &angleEmbedder{angles: map[string]float64{
		"python":  0,
		"python3": 0.005,
		"java":    math.Pi / 2,
	}}
	res, err := New(e, DefaultConfig()).Cluster(context.Background(), []string{"Python3 ", "python", "java", "PYTHON", ""})
	require.NoError(t, err)
	require.Equal(t, map[string][]string{
		"python": {"python", "python3"},
		"java":   {"java"},
	}, res.Clusters)
	require.Equal(t, []string{"java", "python"}, res.Combined)
	require.Equal(t, map[string]string{"python": "python", "python3": "python", "java": "java"}, res.Lookup())
	require.EqualValues(t, 1, e.calls)
}

func skillNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("skill-%02d", i)
	}
	return names
}

func TestClusterRefinesOversizedCluster(t *testing.T) {
	t.Parallel()

	// Two tight groups of 8 and 7 joined at the first radius by a 0.02 rad gap that the
	// refinement radius does not bridge.
	names := skillNames(15)
	angles := make(map[string]float64, len(names))
	for i, n := range names {
		theta := float64(i) * 0.001
		if i >= 8 {
			theta += 0.02
		}
		angles[n] = theta
	}
	res, err := New(&angleEmbedder{angles: angles}, DefaultConfig()).Cluster(context.Background(), names)
	require.NoError(t, err)
	require.Equal(t, []string{"skill-00", "skill-08"}, res.Combined)
	require.Equal(t, names[:8], res.Clusters["skill-00"])
	require.Equal(t, names[8:], res.Clusters["skill-08"])
}

func TestClusterSelfMapsWhenRefinementDoesNotShrink(t *testing.T) {
	t.Parallel()

	names := skillNames(15)
	angles := make(map[string]float64, len(names))
	for i, n := range names {
		angles[n] = float64(i) * 0.001
	}
	res, err := New(&angleEmbedder{angles: angles}, DefaultConfig()).Cluster(context.Background(), names)
	require.NoError(t, err)
	require.Equal(t, names, res.Combined)
	for _, n := range names {
		require.Equal(t, []string{n}, res.Clusters[n])
	}
}

func TestClusterWithoutRefinementSelfMaps(t *testing.T) {
	t.Parallel()

	names := skillNames(12)
	angles := make(map[string]float64, len(names))
	for _, n := range names {
		angles[n] = 0
	}
	cfg := DefaultConfig()
	cfg.MaxRefineDepth = 0
	res, err := New(&angleEmbedder{angles: angles}, cfg).Cluster(context.Background(), names)
	require.NoError(t, err)
	require.Len(t, res.Combined, 12)
}

func TestClusterIsDeterministicUnderPermutation(t *testing.T) {
	t.Parallel()

	names := skillNames(15)
	angles := make(map[string]float64, len(names))
	for i, n := range names {
		angles[n] = float64(i%5) * 0.0001
		if i >= 5 {
			angles[n] += 1 + float64(i/5)
		}
	}
	c := New(&angleEmbedder{angles: angles}, DefaultConfig())
	want, err := c.Cluster(context.Background(), names)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for range 10 {
		shuffled := append([]string(nil), names...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := c.Cluster(context.Background(), shuffled)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestClusterEmptyInputSkipsEmbedder(t *testing.T) {
	t.Parallel()

	e := &angleEmbedder{}
	res, err := New(e, DefaultConfig()).Cluster(context.Background(), []string{" ", ""})
	require.NoError(t, err)
	require.Empty(t, res.Clusters)
	require.Empty(t, res.Combined)
	require.Zero(t, e.calls)
}

func TestClusterEmbedderFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("embedder down")
	_, err := New(&angleEmbedder{err: boom}, DefaultConfig()).Cluster(context.Background(), []string{"go"})
	require.ErrorIs(t, err, vacancy.ErrModelCapability)
	require.ErrorIs(t, err, boom)

	short := &angleEmbedder{angles: map[string]float64{"go": 0, "rust": 1}, short: true}
	_, err = New(short, DefaultConfig()).Cluster(context.Background(), []string{"go", "rust"})
	require.ErrorIs(t, err, vacancy.ErrModelCapability)
}

func TestToVectorsRejectsMixedDimensions(t *testing.T) {
	t.Parallel()

	_, err := toVectors([][]float32{{1, 0}, {1}}, 2)
	require.ErrorIs(t, err, vacancy.ErrModelCapability)
	_, err = toVectors([][]float32{{}}, 1)
	require.ErrorIs(t, err, vacancy.ErrModelCapability)
}

func TestComponentsTreatsZeroVectorsAsIsolated(t *testing.T) {
	t.Parallel()

	vectors := [][]float64{{0, 0}, {0, 0}, {1, 0}}
	require.Equal(t, [][]int{{0}, {1}, {2}}, components(vectors, []int{0, 1, 2}, 0.5))
}

func TestComponentsChainsNeighborsOverMemberSubset(t *testing.T) {
	t.Parallel()

	// 1 and 3 are only linked through 2; 0 and 5 lie outside the member subset.
	vectors := [][]float64{
		{1, 0},
		{1, 0},
		{1, 0.35},
		{1, 0.7},
		{0, 1},
		{1, 0},
	}
	got := components(vectors, []int{4, 3, 2, 1}, 0.06)
	require.Equal(t, [][]int{{1, 2, 3}, {4}}, got)
}
