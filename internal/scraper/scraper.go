package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"ticket-triage/internal/config"
	"ticket-triage/internal/models"
)

var sitemapLocRe = regexp.MustCompile(`<loc>\s*([^<]+?)\s*</loc>`)

// Keywords that mark a URL as high-value documentation; these pages are
// fetched before deep reference material.
var (
	highValueKeywords = []string{
		"getting-started", "overview", "introduction", "quickstart",
		"api", "sdk", "authentication", "guide", "tutorial",
	}
	mediumValueKeywords = []string{
		"how-to", "best-practices", "concepts", "setup",
		"integration", "connector", "lineage", "glossary",
	}
)

// Scraper crawls the configured documentation hosts and extracts page text
// for chunking.
type Scraper struct {
	cfg     config.CrawlerConfig
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
	scheme  string
}

func NewScraper(cfg config.CrawlerConfig, log zerolog.Logger) *Scraper {
	return &Scraper{
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		log:     log,
		scheme:  "https",
	}
}

// ScrapeDocumentation runs the full crawl: discover candidate URLs, order
// them by value, and fetch up to the configured page cap.
func (s *Scraper) ScrapeDocumentation(ctx context.Context) ([]models.ScrapedDocument, error) {
	urls, err := s.DiscoverURLs(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Info().Int("urls", len(urls)).Msg("discovery finished")

	urls = s.PrioritizeURLs(urls)
	if len(urls) > s.cfg.MaxPages {
		urls = urls[:s.cfg.MaxPages]
	}
	return s.ScrapeURLs(ctx, urls)
}

// DiscoverURLs collects documentation URLs from each host's sitemap, falling
// back to breadth-first link crawling from the seed URLs when no sitemap
// yields anything.
func (s *Scraper) DiscoverURLs(ctx context.Context) ([]string, error) {
	found := make(map[string]bool)
	var order []string
	add := func(u string) {
		if !found[u] && s.IsValidDocURL(u) {
			found[u] = true
			order = append(order, u)
		}
	}

	for _, u := range s.cfg.SeedURLs {
		if !found[u] {
			found[u] = true
			order = append(order, u)
		}
	}
	seeds := len(order)

	for host := range s.cfg.AllowedPaths {
		for _, u := range s.fetchSitemap(ctx, host) {
			add(u)
		}
	}
	if len(order) > seeds {
		return order, nil
	}
	s.log.Info().Msg("no sitemap urls, crawling from seeds")

	frontier := append([]string(nil), s.cfg.SeedURLs...)
	visited := make(map[string]bool)
	for depth := 0; depth <= s.cfg.MaxDepth && len(frontier) > 0 && len(order) < s.cfg.MaxPages; depth++ {
		var next []string
		for start := 0; start < len(frontier); start += s.cfg.DiscoveryBatchSize {
			end := start + s.cfg.DiscoveryBatchSize
			if end > len(frontier) {
				end = len(frontier)
			}
			for _, pageURL := range frontier[start:end] {
				if visited[pageURL] {
					continue
				}
				visited[pageURL] = true
				add(pageURL)

				doc, err := s.fetch(ctx, pageURL)
				if err != nil {
					s.log.Debug().Err(err).Str("url", pageURL).Msg("discovery fetch failed")
					continue
				}
				page := ExtractPage(doc, pageURL)
				for _, link := range page.Hyperlinks {
					if s.IsValidDocURL(link) && !visited[link] {
						next = append(next, link)
					}
				}
			}
			time.Sleep(time.Duration(s.cfg.DelayMS) * time.Millisecond)
		}
		frontier = next
	}

	return order, nil
}

func (s *Scraper) fetchSitemap(ctx context.Context, host string) []string {
	var urls []string
	for _, file := range []string{"/sitemap.xml", "/sitemap_index.xml"} {
		body, err := s.fetchRaw(ctx, s.scheme+"://"+host+file)
		if err != nil {
			s.log.Debug().Err(err).Str("host", host).Str("file", file).Msg("no sitemap")
			continue
		}
		for _, m := range sitemapLocRe.FindAllStringSubmatch(body, -1) {
			loc := strings.TrimSuffix(m[1], "/")
			// Index files point at nested sitemaps; follow them one level.
			if strings.HasSuffix(loc, ".xml") {
				nested, err := s.fetchRaw(ctx, loc)
				if err != nil {
					continue
				}
				for _, n := range sitemapLocRe.FindAllStringSubmatch(nested, -1) {
					urls = append(urls, strings.TrimSuffix(n[1], "/"))
				}
				continue
			}
			urls = append(urls, loc)
		}
	}
	return urls
}

// IsValidDocURL reports whether a URL belongs to an allowed documentation
// host, sits under an allowed path prefix, and is not blocked.
func (s *Scraper) IsValidDocURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	prefixes, ok := s.cfg.AllowedPaths[u.Host]
	if !ok {
		return false
	}

	path := u.Path
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	lower := strings.ToLower(path)
	for _, blocked := range s.cfg.BlockedPaths {
		if strings.Contains(lower, blocked) {
			return false
		}
	}

	if u.Path == "" || u.Path == "/" {
		return true
	}
	// Top-level pages on an allowed host are admitted even without a
	// matching prefix; they are usually section landing pages.
	if len(strings.Split(strings.Trim(u.Path, "/"), "/")) <= 1 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// ScoreURL ranks a URL by how likely it is to hold broadly useful
// documentation. Root and landing pages outrank deep reference pages.
func (s *Scraper) ScoreURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}

	score := 0
	lower := strings.ToLower(u.Path)
	if containsAny(lower, highValueKeywords) {
		score += 10
	}
	if containsAny(lower, mediumValueKeywords) {
		score += 5
	}

	depth := len(strings.Split(strings.Trim(u.Path, "/"), "/"))
	if u.Path == "" || u.Path == "/" {
		depth = 0
		score += 15
	}
	if bonus := 10 - depth; bonus > 0 {
		score += bonus
	}
	return score
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// PrioritizeURLs orders URLs by descending score; equal scores keep their
// discovery order.
func (s *Scraper) PrioritizeURLs(urls []string) []string {
	sorted := append([]string(nil), urls...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.ScoreURL(sorted[i]) > s.ScoreURL(sorted[j])
	})
	return sorted
}

// ScrapeURLs fetches the given pages in small concurrent batches, keeping
// only those whose extracted content is worth indexing.
func (s *Scraper) ScrapeURLs(ctx context.Context, urls []string) ([]models.ScrapedDocument, error) {
	var (
		mu   sync.Mutex
		docs []models.ScrapedDocument
	)

	for start := 0; start < len(urls); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(urls) {
			end = len(urls)
		}

		var wg sync.WaitGroup
		for _, pageURL := range urls[start:end] {
			wg.Add(1)
			go func(pageURL string) {
				defer wg.Done()
				doc, err := s.fetch(ctx, pageURL)
				if err != nil {
					s.log.Warn().Err(err).Str("url", pageURL).Msg("fetch failed")
					return
				}
				page := ExtractPage(doc, pageURL)
				if !s.IsValuableContent(page) {
					s.log.Debug().Str("url", pageURL).Msg("page skipped as low value")
					return
				}
				mu.Lock()
				docs = append(docs, page)
				mu.Unlock()
			}(pageURL)
		}
		wg.Wait()

		if end < len(urls) {
			time.Sleep(time.Second)
		}
	}

	s.log.Info().Int("pages", len(docs)).Msg("scrape finished")
	return docs, nil
}

var errorTitleMarkers = []string{"404", "not found", "page unavailable", "error"}

// IsValuableContent filters out error pages and thin navigation-only pages.
// Heading-heavy pages are usually navigation hubs; they are still kept when
// they carry enough outgoing links.
func (s *Scraper) IsValuableContent(page models.ScrapedDocument) bool {
	title := strings.ToLower(page.Title)
	for _, marker := range errorTitleMarkers {
		if strings.Contains(title, marker) {
			return false
		}
	}
	if len(page.Content) < s.cfg.MinContentLength {
		return false
	}

	headingWords := 0
	for _, h := range page.Headings {
		headingWords += len(strings.Fields(h))
	}
	contentWords := len(strings.Fields(page.Content))
	if contentWords == 0 {
		return false
	}
	if float64(headingWords)/float64(contentWords) > 0.3 {
		return len(page.Hyperlinks) >= 5 && len(page.Content) > s.cfg.MinContentLength/2
	}
	return true
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	return goquery.NewDocumentFromReader(reader)
}

func (s *Scraper) fetchRaw(ctx context.Context, rawURL string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
