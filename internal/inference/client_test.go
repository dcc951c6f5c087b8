package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

func TestLabelSendsTextAndDecodesTokens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req labelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "знание go", req.Text)
		_, _ = w.Write([]byte(`{"tokens":[{"token":"знание","label":"O"},{"token":"go","label":"B-SKILL"}]}`))
	}))
	defer srv.Close()

	c := New(Config{LabelerURL: srv.URL, APIKey: "secret"})
	tokens, err := c.Label(context.Background(), "знание go")
	require.NoError(t, err)
	require.Equal(t, []vacancy.Token{
		{Text: "знание", Label: vacancy.LabelOutside},
		{Text: "go", Label: vacancy.LabelBeginSkill},
	}, tokens)
}

func TestEmbedOrdersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rubert", req.Model)
		require.Equal(t, []string{"go", "java"}, req.Input)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	vectors, err := New(Config{EmbedderURL: srv.URL, EmbeddingModel: "rubert"}).Embed(context.Background(), []string{"go", "java"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbedRejectsShortResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	_, err := New(Config{EmbedderURL: srv.URL}).Embed(context.Background(), []string{"a", "b"})
	require.ErrorContains(t, err, "1 vectors for 2 inputs")
}

func TestEmbedRejectsBadIndices(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"duplicate", `{"data":[{"index":0,"embedding":[1]},{"index":0,"embedding":[2]}]}`, "index 0 twice"},
		{"out of range", `{"data":[{"index":0,"embedding":[1]},{"index":2,"embedding":[2]}]}`, "index 2 for 2 inputs"},
		{"negative", `{"data":[{"index":-1,"embedding":[1]},{"index":0,"embedding":[2]}]}`, "index -1 for 2 inputs"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(Config{EmbedderURL: srv.URL}).Embed(context.Background(), []string{"a", "b"})
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestEmbedEmptyInputSkipsRequest(t *testing.T) {
	t.Parallel()

	vectors, err := New(Config{}).Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}

func TestBadStatusIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model loading"))
	}))
	defer srv.Close()

	_, err := New(Config{LabelerURL: srv.URL}).Label(context.Background(), "go")
	require.ErrorContains(t, err, "503")
	require.ErrorContains(t, err, "model loading")
}

func TestMissingEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Label(context.Background(), "go")
	require.Error(t, err)
	_, err = New(Config{}).Embed(context.Background(), []string{"go"})
	require.Error(t, err)
}

func TestRequestHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{LabelerURL: srv.URL}).Label(ctx, "go")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
