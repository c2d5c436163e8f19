// Package escalate decides when a probe fetch should be promoted to
// the rendering strategy.
package escalate

import (
	"bytes"
	"net/http"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// DefaultMinHTMLBytes is the size below which a 200 response is
// considered a shell that needs JavaScript to fill in.
const DefaultMinHTMLBytes = 1000

// needsJSMarkers are case-insensitive substrings that indicate the
// server returned a JS bootstrap page or a challenge instead of
// content: enable-javascript prompts, bot-challenge banners, empty SPA
// mount points, and framework bootstrap tokens.
var needsJSMarkers = [][]byte{
	[]byte("enable javascript"),
	[]byte("javascript is required"),
	[]byte("javascript must be enabled"),
	[]byte("checking your browser"),
	[]byte("please wait"),
	[]byte("loading..."),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="root"></div>`),
	[]byte("window.__initial_state__"),
	[]byte("react.createelement"),
	[]byte("angular.module"),
}

// Heuristic implements crawler.Detector with rule-based promotion.
type Heuristic struct {
	minHTMLBytes int
}

// NewHeuristic builds a Heuristic; a non-positive threshold falls back
// to DefaultMinHTMLBytes.
func NewHeuristic(minHTMLBytes int) *Heuristic {
	if minHTMLBytes <= 0 {
		minHTMLBytes = DefaultMinHTMLBytes
	}
	return &Heuristic{minHTMLBytes: minHTMLBytes}
}

// ShouldEscalate reports whether the fetched page warrants a rendering
// pass. A failed or blocked fetch never escalates; a successful fetch
// escalates when the body is suspiciously small, carries a needs-JS
// marker, or parsing yielded no usable profile fields.
func (h *Heuristic) ShouldEscalate(result crawler.FetchResult, profile *crawler.ParsedProfile) bool {
	if result.StatusCode != http.StatusOK || len(result.HTML) == 0 {
		return false
	}
	if len(result.HTML) < h.minHTMLBytes {
		return true
	}
	lower := bytes.ToLower(result.HTML)
	for _, marker := range needsJSMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	if profile == nil {
		return true
	}
	return profile.Empty()
}
