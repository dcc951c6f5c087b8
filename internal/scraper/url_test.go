package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

func TestExternalID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		url  string
		want int64
		ok   bool
	}{
		{"https://hh.ru/vacancy/93847561", 93847561, true},
		{"https://volgograd.hh.ru/vacancy/101?query=programmist&hhtmFrom=vacancy_search_list", 101, true},
		{"https://hh.ru/vacancy/77/", 77, true},
		{"https://hh.ru/vacancy/abc", 0, false},
		{"https://hh.ru/employer/12x", 0, false},
		{"https://hh.ru/", 0, false},
		{"", 0, false},
		{"https://hh.ru/vacancy/-4", 0, false},
	}
	for _, tc := range cases {
		got, err := ExternalID(tc.url)
		if !tc.ok {
			require.ErrorIs(t, err, vacancy.ErrMalformedDetailURL, tc.url)
			continue
		}
		require.NoError(t, err, tc.url)
		require.Equal(t, tc.want, got, tc.url)
	}
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	s := New(Config{BaseDomain: "hh.ru", DefaultRegion: "moscow"}, nil)
	require.Equal(t, "https://hh.ru/search/vacancy?page=2&text=golang", s.SearchURL("moscow", "golang", 2))
	require.Equal(t, "https://volgograd.hh.ru/search/vacancy?page=0&text=programmist", s.SearchURL("volgograd", "programmist", 0))
	require.Equal(t, "https://hh.ru/search/vacancy?page=0&text=data+engineer", s.SearchURL("", "data engineer", 0))
}
