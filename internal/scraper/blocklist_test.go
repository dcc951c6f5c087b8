package scraper

import "testing"

func TestHostBlocklist(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		bl := newHostBlocklist([]string{"adsrv.hh.ru"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if !bl.IsBlocked("https://adsrv.hh.ru/click?b=1&place=35") {
			t.Fatalf("expected ad server link to be blocked")
		}
		if bl.IsBlocked("https://hh.ru/vacancy/123") {
			t.Fatalf("did not expect vacancy link to be blocked")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		bl := newHostBlocklist([]string{"*.ads.example", ".banners.example"})
		cases := []struct {
			url     string
			blocked bool
		}{
			{"https://a.ads.example/x", true},
			{"https://ads.example/x", true},
			{"http://deep.sub.banners.example", true},
			{"https://example/vacancy/1", false},
		}
		for _, tc := range cases {
			if got := bl.IsBlocked(tc.url); got != tc.blocked {
				t.Fatalf("url %q blocked=%v, want %v", tc.url, got, tc.blocked)
			}
		}
	})

	t.Run("empty patterns", func(t *testing.T) {
		var bl *hostBlocklist = newHostBlocklist([]string{"", "  "})
		if bl != nil {
			t.Fatalf("expected nil blocklist for empty patterns")
		}
		if bl.IsBlocked("https://adsrv.hh.ru") {
			t.Fatalf("nil blocklist must not block")
		}
	})
}
