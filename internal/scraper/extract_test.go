package scraper

import (
	"testing"

	"pgregory.net/rapid"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Extracted
	}{
		{
			name: "all fields present",
			html: `<html><head><title>T</title><meta name="description" content="D"><link rel="icon" href="I"></head></html>`,
			want: Extracted{Title: "T", Description: "D", FaviconURL: "I"},
		},
		{
			name: "no tags",
			html: `<html><body><p>nothing to see</p></body></html>`,
			want: Extracted{Title: "", Description: "", FaviconURL: "/favicon.ico"},
		},
		{
			name: "empty body",
			html: ``,
			want: Extracted{FaviconURL: "/favicon.ico"},
		},
		{
			name: "first title wins",
			html: `<title>First</title><title>Second</title>`,
			want: Extracted{Title: "First", FaviconURL: "/favicon.ico"},
		},
		{
			name: "single quoted description",
			html: `<meta name='description' content='It&#39;s "quoted"'>`,
			want: Extracted{Description: `It&#39;s "quoted"`, FaviconURL: "/favicon.ico"},
		},
		{
			name: "shortcut icon beats icon regardless of order",
			html: `<link rel="icon" href="/icon.png"><link rel="shortcut icon" href="/shortcut.ico">`,
			want: Extracted{FaviconURL: "/shortcut.ico"},
		},
		{
			name: "icon beats apple-touch-icon",
			html: `<link rel="apple-touch-icon" href="/apple.png"><link rel='icon' href='/icon.png'>`,
			want: Extracted{FaviconURL: "/icon.png"},
		},
		{
			name: "apple-touch-icon with extra attributes",
			html: `<link rel="apple-touch-icon" sizes="180x180" href="/apple.png">`,
			want: Extracted{FaviconURL: "/apple.png"},
		},
		{
			name: "single quoted shortcut icon",
			html: `<link rel='shortcut icon' type='image/x-icon' href='/s.ico'>`,
			want: Extracted{FaviconURL: "/s.ico"},
		},
		{
			name: "malformed markup keeps other fields",
			html: `<title>Broken<meta name="description" content="Still here"><link rel="icon" href="/i.png"`,
			want: Extracted{Description: "Still here", FaviconURL: "/i.png"},
		},
		{
			name: "unrelated link rel ignored",
			html: `<link rel="stylesheet" href="/site.css"><title>Styled</title>`,
			want: Extracted{Title: "Styled", FaviconURL: "/favicon.ico"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract([]byte(tt.html))
			if got != tt.want {
				t.Errorf("Extract() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIconRulesOrder(t *testing.T) {
	want := []string{"shortcut icon", "shortcut icon", "icon", "icon", "apple-touch-icon", "apple-touch-icon"}
	if len(iconRules) != len(want) {
		t.Fatalf("Expected %d icon rules, got %d", len(want), len(iconRules))
	}
	for i, rule := range iconRules {
		if rule.Rel != want[i] {
			t.Errorf("Rule %d: expected rel %q, got %q", i, want[i], rule.Rel)
		}
	}
}

func TestExtract_NeverEmptyFavicon(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOf(rapid.Byte()).Draw(t, "body")
		got := Extract(body)
		if got.FaviconURL == "" {
			t.Fatalf("FaviconURL must never be empty")
		}
	})
}

func TestExtract_TitleRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		title := rapid.StringMatching(`[A-Za-z0-9 .,!-]{0,40}`).Draw(t, "title")
		got := Extract([]byte("<html><head><title>" + title + "</title></head></html>"))
		if got.Title != title {
			t.Fatalf("Title = %q, want %q", got.Title, title)
		}
	})
}
