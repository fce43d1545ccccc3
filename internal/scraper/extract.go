package scraper

import (
	"regexp"

	"github.com/martinsuchenak/beacond/internal/model"
)

// Extracted holds the fields pulled out of a page body
type Extracted struct {
	Title       string
	Description string
	FaviconURL  string
}

// iconRule matches one form of icon link. Group 1 of Pattern is the href.
type iconRule struct {
	Rel     string
	Quote   string
	Pattern *regexp.Regexp
}

var (
	titlePattern       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	descriptionPattern = regexp.MustCompile(`(?i)<meta\s+name=["']description["'][^>]*?\s+content=(?:"([^"]*)"|'([^']*)')`)
)

// iconRules are tried in order; the first match wins.
var iconRules = []iconRule{
	{Rel: "shortcut icon", Quote: `"`, Pattern: regexp.MustCompile(`(?i)<link\s+rel="shortcut icon"[^>]*?\s+href="([^"]+)"`)},
	{Rel: "shortcut icon", Quote: `'`, Pattern: regexp.MustCompile(`(?i)<link\s+rel='shortcut icon'[^>]*?\s+href='([^']+)'`)},
	{Rel: "icon", Quote: `"`, Pattern: regexp.MustCompile(`(?i)<link\s+rel="icon"[^>]*?\s+href="([^"]+)"`)},
	{Rel: "icon", Quote: `'`, Pattern: regexp.MustCompile(`(?i)<link\s+rel='icon'[^>]*?\s+href='([^']+)'`)},
	{Rel: "apple-touch-icon", Quote: `"`, Pattern: regexp.MustCompile(`(?i)<link\s+rel="apple-touch-icon"[^>]*?\s+href="([^"]+)"`)},
	{Rel: "apple-touch-icon", Quote: `'`, Pattern: regexp.MustCompile(`(?i)<link\s+rel='apple-touch-icon'[^>]*?\s+href='([^']+)'`)},
}

// Extract pulls title, description and favicon out of raw HTML. Each field is
// matched independently; a field that is not found falls back to its default.
func Extract(body []byte) Extracted {
	out := Extracted{FaviconURL: model.DefaultFaviconURL}

	if m := titlePattern.FindSubmatch(body); m != nil {
		out.Title = string(m[1])
	}

	if m := descriptionPattern.FindSubmatch(body); m != nil {
		if m[1] != nil {
			out.Description = string(m[1])
		} else {
			out.Description = string(m[2])
		}
	}

	for _, rule := range iconRules {
		if m := rule.Pattern.FindSubmatch(body); m != nil {
			out.FaviconURL = string(m[1])
			break
		}
	}

	return out
}
