package scraper

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ticket-triage/internal/models"
)

// SPA navigation components carry their targets in framework attributes
// rather than href.
var spaLinkRe = regexp.MustCompile(`(?:to|pathname|data-href)="(/[^"]*)"`)

var whitespaceRe = regexp.MustCompile(`\s+`)

// ExtractPage pulls the title, body text, headings, breadcrumbs and outgoing
// links from a fetched documentation page.
func ExtractPage(doc *goquery.Document, pageURL string) models.ScrapedDocument {
	page := models.ScrapedDocument{URL: pageURL}

	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			page.Headings = append(page.Headings, text)
		}
	})

	doc.Find("[class*=breadcrumb] a, [class*=breadcrumb] li").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			page.Breadcrumbs = append(page.Breadcrumbs, text)
		}
	})

	page.Content = extractText(doc)
	page.Section = sectionFromURL(pageURL)
	page.Hyperlinks = extractLinks(doc, pageURL)
	return page
}

// extractText prefers the main content region and falls back to the whole
// body, with script and style noise stripped.
func extractText(doc *goquery.Document) string {
	region := doc.Find("main").First()
	if region.Length() == 0 {
		region = doc.Find("article").First()
	}
	if region.Length() == 0 {
		region = doc.Find("body").First()
	}
	region.Find("script, style, nav, footer").Remove()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(region.Text(), " "))
}

// sectionFromURL takes the first path segment as the documentation section.
func sectionFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

func extractLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	add := func(href string) {
		resolved := resolveURL(base, href)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			add(href)
		}
	})

	// Client-side routers hide link targets in component props; recover them
	// from the raw markup.
	if html, err := doc.Html(); err == nil {
		for _, m := range spaLinkRe.FindAllStringSubmatch(html, -1) {
			add(m[1])
		}
	}

	return links
}

// resolveURL absolutizes href against base and normalizes the result:
// fragments are dropped and trailing slashes trimmed so the same page never
// appears twice in the frontier.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	abs.RawQuery = ""
	abs.Path = strings.TrimSuffix(abs.Path, "/")
	return abs.String()
}
