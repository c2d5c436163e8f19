package parse

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/meridianlab/profile-crawler/internal/crawler"
)

// GenericStrategyName identifies the selector-based default extractor.
const GenericStrategyName = "generic"

var (
	handleExpr      = regexp.MustCompile(`@(\w+)`)
	titleSuffixExpr = regexp.MustCompile(`[|-].*$`)
	emptyParenExpr  = regexp.MustCompile(`\s*\(\s*\)\s*`)
	statExpr        = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)*[KMB]?)\s*(\w+)`)
	statValueExpr   = regexp.MustCompile(`(?i)^([\d.]+)([KMB])?$`)
)

// coverSelectors are tried in order for a cover image; a candidate
// equal to og:image is rejected as a duplicate of the avatar.
var coverSelectors = []string{
	`meta[property="og:image:secure_url"]`,
	`meta[property="twitter:image"]`,
	`img[alt*="cover"]`,
	`img[alt*="banner"]`,
	`.cover-image img`,
	`.profile-banner img`,
}

// GenericStrategy extracts profiles from arbitrary pages using Open
// Graph metadata and common markup patterns. Priority 1, matches any
// URL; the per-platform strategies outrank it on their domains.
type GenericStrategy struct{}

// NewGenericStrategy builds the default extractor.
func NewGenericStrategy() *GenericStrategy {
	return &GenericStrategy{}
}

// Name implements crawler.ParseStrategy.
func (s *GenericStrategy) Name() string { return GenericStrategyName }

// Priority implements crawler.ParseStrategy.
func (s *GenericStrategy) Priority() int { return 1 }

// Supports matches every URL; the generic strategy is the fallback.
func (s *GenericStrategy) Supports(string) bool { return true }

// Parse extracts a profile using the generic algorithm: Open Graph
// tags first, URL path and title heuristics for the username, stat
// and link harvesting from the document body.
func (s *GenericStrategy) Parse(html []byte, sourceURL string) (crawler.ParsedProfile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.ParsedProfile{}, crawler.NewError(crawler.KindContent, 0, "parse html", err)
	}

	ogTitle := metaContent(doc, `meta[property="og:title"]`)
	ogDescription := metaContent(doc, `meta[property="og:description"]`)
	ogImage := metaContent(doc, `meta[property="og:image"]`)
	pageTitle := strings.TrimSpace(doc.Find("title").First().Text())

	return crawler.ParsedProfile{
		SourceURL:   sourceURL,
		Username:    extractUsername(doc, ogTitle, sourceURL),
		DisplayName: extractDisplayName(doc, ogTitle, pageTitle),
		Bio:         ogDescription,
		AvatarURL:   ogImage,
		CoverURL:    extractCoverImage(doc, ogImage),
		PublicStats: extractPublicStats(doc),
		Links:       extractExternalLinks(doc, sourceURL),
	}, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// extractUsername prefers the last non-empty path segment of the
// source URL, then an @handle token in the title, then a discovered
// profile link.
func extractUsername(doc *goquery.Document, ogTitle, sourceURL string) string {
	if segment := lastPathSegment(sourceURL); segment != "" {
		return segment
	}
	if m := handleExpr.FindStringSubmatch(ogTitle); m != nil {
		return m[1]
	}
	if href, ok := doc.Find(`a[href*="/@"]`).First().Attr("href"); ok {
		if m := handleExpr.FindStringSubmatch(href); m != nil {
			return m[1]
		}
	}
	return ""
}

func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(u.Path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

// extractDisplayName cleans the og:title of handle tokens and trailing
// "| ..." or "- ..." suffixes, falling back to the first heading, then
// to a cleaned page title.
func extractDisplayName(doc *goquery.Document, ogTitle, pageTitle string) string {
	if ogTitle != "" {
		cleaned := handleExpr.ReplaceAllString(ogTitle, "")
		cleaned = cleanTitle(cleaned)
		if cleaned != "" {
			return cleaned
		}
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return cleanTitle(pageTitle)
}

func cleanTitle(title string) string {
	cleaned := titleSuffixExpr.ReplaceAllString(title, "")
	cleaned = emptyParenExpr.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

func extractCoverImage(doc *goquery.Document, ogImage string) string {
	for _, selector := range coverSelectors {
		sel := doc.Find(selector).First()
		candidate, ok := sel.Attr("content")
		if !ok {
			candidate, _ = sel.Attr("src")
		}
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && candidate != ogImage {
			return candidate
		}
	}
	return ""
}

// extractPublicStats harvests "<number><suffix?> <label>" pairs from
// stat-looking elements, normalizing comma separators and K/M/B
// multipliers. Single-character labels are multiplier artifacts, not
// real labels, and are discarded.
func extractPublicStats(doc *goquery.Document) map[string]float64 {
	stats := make(map[string]float64)
	doc.Find(`[class*="stat"], [class*="count"], [data-count]`).Each(func(_ int, sel *goquery.Selection) {
		m := statExpr.FindStringSubmatch(sel.Text())
		if m == nil {
			return
		}
		value := parseStatValue(m[1])
		label := strings.ToLower(m[2])
		if value > 0 && len(label) > 1 {
			stats[label] = value
		}
	})
	if len(stats) == 0 {
		return nil
	}
	return stats
}

func parseStatValue(raw string) float64 {
	normalized := strings.ReplaceAll(raw, ",", "")
	m := statValueExpr.FindStringSubmatch(normalized)
	if m == nil {
		return 0
	}
	num, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		return num * 1e3
	case "M":
		return num * 1e6
	case "B":
		return num * 1e9
	default:
		return num
	}
}

// extractExternalLinks collects outbound anchors whose resolved
// hostname differs from the source's, deduplicated; malformed URLs
// are silently skipped.
func extractExternalLinks(doc *goquery.Document, sourceURL string) []string {
	source, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved, err := source.Parse(href)
		if err != nil {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if resolved.Hostname() == source.Hostname() {
			return
		}
		link := resolved.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
