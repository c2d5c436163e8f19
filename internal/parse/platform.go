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

// PlatformStrategyName identifies the per-platform extractor.
const PlatformStrategyName = "platform"

// platformDomains are the sites with tailored extraction rules.
var platformDomains = []string{
	"github.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"facebook.com",
}

var connectionsExpr = regexp.MustCompile(`(?i)([\d,]+)\s*connections?`)

// PlatformStrategy extracts profiles with platform-tailored selectors.
// Priority 10, so it outranks the generic strategy on its domains. A
// matched URL always yields a profile, possibly with every field
// empty: returning nothing here would fall back to the generic
// strategy on a page where its patterns do not apply.
type PlatformStrategy struct{}

// NewPlatformStrategy builds the per-platform extractor.
func NewPlatformStrategy() *PlatformStrategy {
	return &PlatformStrategy{}
}

// Name implements crawler.ParseStrategy.
func (s *PlatformStrategy) Name() string { return PlatformStrategyName }

// Priority implements crawler.ParseStrategy.
func (s *PlatformStrategy) Priority() int { return 10 }

// Supports matches the known platform domains and their subdomains.
func (s *PlatformStrategy) Supports(rawURL string) bool {
	return platformFor(rawURL) != ""
}

// Parse dispatches to the platform-specific extractor.
func (s *PlatformStrategy) Parse(html []byte, sourceURL string) (crawler.ParsedProfile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.ParsedProfile{}, crawler.NewError(crawler.KindContent, 0, "parse html", err)
	}

	switch platformFor(sourceURL) {
	case "github.com":
		return s.parseGitHub(doc, sourceURL), nil
	case "linkedin.com":
		return s.parseLinkedIn(doc, sourceURL), nil
	case "twitter.com", "x.com":
		return s.parseTwitter(doc, sourceURL), nil
	default:
		return s.parseFallback(doc, sourceURL), nil
	}
}

func platformFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range platformDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return domain
		}
	}
	return ""
}

func (s *PlatformStrategy) parseGitHub(doc *goquery.Document, sourceURL string) crawler.ParsedProfile {
	profile := crawler.ParsedProfile{
		SourceURL: sourceURL,
		Username:  firstText(doc, ".p-nickname"),
		DisplayName: firstNonEmpty(
			firstText(doc, "h1.vcard-names"),
			firstText(doc, `[itemprop="name"]`),
		),
		Bio: firstNonEmpty(
			firstText(doc, ".user-profile-bio"),
			firstText(doc, `[itemprop="description"]`),
		),
		AvatarURL: firstAttr(doc, "img.avatar", "src"),
	}
	if profile.Username == "" {
		profile.Username = lastPathSegment(sourceURL)
	}

	stats := make(map[string]float64)
	doc.Find(".Counter").Each(func(_ int, sel *goquery.Selection) {
		count, err := strconv.ParseFloat(strings.TrimSpace(sel.Text()), 64)
		if err != nil {
			return
		}
		context := strings.ToLower(sel.Closest("a").Text())
		switch {
		case strings.Contains(context, "followers"):
			stats["followers"] = count
		case strings.Contains(context, "following"):
			stats["following"] = count
		case strings.Contains(context, "repositories"):
			stats["repositories"] = count
		}
	})
	if len(stats) > 0 {
		profile.PublicStats = stats
	}
	profile.Links = collectLinks(doc, `.vcard-details a[href^="http"]`)
	return profile
}

func (s *PlatformStrategy) parseLinkedIn(doc *goquery.Document, sourceURL string) crawler.ParsedProfile {
	profile := crawler.ParsedProfile{
		SourceURL: sourceURL,
		Username:  firstText(doc, ".profile-handle, .public-identifier"),
		DisplayName: firstNonEmpty(
			firstText(doc, "h1.top-card-layout__title"),
			firstText(doc, "h1.text-heading-xlarge"),
		),
		Bio: firstNonEmpty(
			firstText(doc, ".top-card-layout__headline"),
			firstText(doc, "div.text-body-medium"),
			firstText(doc, "section.summary"),
			firstText(doc, "section.about"),
		),
		AvatarURL: firstNonEmpty(
			firstAttr(doc, "img.top-card__profile-image", "src"),
			firstAttr(doc, "img.profile-photo", "src"),
		),
		CoverURL: firstAttr(doc, ".cover-photo img, .artdeco-entity-cover-image img", "src"),
	}

	if m := connectionsExpr.FindStringSubmatch(doc.Find(".top-card__subline-item").Text()); m != nil {
		raw := strings.ReplaceAll(m[1], ",", "")
		if count, err := strconv.ParseFloat(raw, 64); err == nil {
			profile.PublicStats = map[string]float64{"connections": count}
		}
	}
	profile.Links = collectLinks(doc, ".contact-links a, .social-links a")
	return profile
}

func (s *PlatformStrategy) parseTwitter(doc *goquery.Document, sourceURL string) crawler.ParsedProfile {
	profile := crawler.ParsedProfile{
		SourceURL: sourceURL,
		Username: firstNonEmpty(
			firstText(doc, `[data-testid="UserName"] span`),
			lastPathSegment(sourceURL),
		),
		DisplayName: firstNonEmpty(
			metaContent(doc, `meta[property="og:title"]`),
			firstText(doc, "h1"),
		),
		Bio: firstNonEmpty(
			firstText(doc, `[data-testid="UserDescription"]`),
			metaContent(doc, `meta[property="og:description"]`),
		),
		AvatarURL: firstNonEmpty(
			firstAttr(doc, `img[alt="Opens profile photo"]`, "src"),
			metaContent(doc, `meta[property="og:image"]`),
		),
	}
	if profile.DisplayName != "" {
		profile.DisplayName = cleanTitle(handleExpr.ReplaceAllString(profile.DisplayName, ""))
	}
	profile.Links = collectLinks(doc, `[data-testid="UserUrl"], .profile-links a`)
	return profile
}

// parseFallback covers matched platforms without tailored rules. It
// still returns a profile so dispatch never falls through to the
// generic strategy on a matched domain.
func (s *PlatformStrategy) parseFallback(doc *goquery.Document, sourceURL string) crawler.ParsedProfile {
	return crawler.ParsedProfile{
		SourceURL:   sourceURL,
		Username:    lastPathSegment(sourceURL),
		DisplayName: firstText(doc, "h1"),
		Bio: firstNonEmpty(
			firstText(doc, "h2"),
			firstText(doc, ".description"),
		),
		AvatarURL: firstAttr(doc, "img.avatar, img.profile-image", "src"),
	}
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().Text())
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	value, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func collectLinks(doc *goquery.Document, selector string) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(href, "http") {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, href)
	})
	return links
}
