package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Connecting Snowflake</title></head>
<body>
<nav class="breadcrumbs"><a href="/">Home</a><a href="/guide">Guides</a></nav>
<main>
  <h1>Connecting Snowflake</h1>
  <p>Use a service account with the    minimum privileges required.</p>
  <h2>Prerequisites</h2>
  <p>You need warehouse access before you begin.</p>
  <a href="/guide/permissions">Permissions</a>
  <a href="/guide/permissions#section">Permissions anchor</a>
  <a href="https://other.example.com/page">External</a>
  <a href="mailto:support@example.com">Email us</a>
  <div to="/guide/router-target">SPA nav</div>
</main>
<script>ignore_me()</script>
</body>
</html>`

func TestExtractPage(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(samplePage))
	require.NoError(t, err)

	page := ExtractPage(doc, "https://docs.example.com/guide/snowflake")

	t.Run("title", func(t *testing.T) {
		assert.Equal(t, "Connecting Snowflake", page.Title)
	})

	t.Run("headings in document order", func(t *testing.T) {
		assert.Equal(t, []string{"Connecting Snowflake", "Prerequisites"}, page.Headings)
	})

	t.Run("breadcrumbs", func(t *testing.T) {
		assert.Contains(t, page.Breadcrumbs, "Home")
		assert.Contains(t, page.Breadcrumbs, "Guides")
	})

	t.Run("content is collapsed text without scripts", func(t *testing.T) {
		assert.Contains(t, page.Content, "Use a service account with the minimum privileges required.")
		assert.NotContains(t, page.Content, "ignore_me")
	})

	t.Run("section from first path segment", func(t *testing.T) {
		assert.Equal(t, "guide", page.Section)
	})

	t.Run("links resolved and deduplicated", func(t *testing.T) {
		assert.Contains(t, page.Hyperlinks, "https://docs.example.com/guide/permissions")
		assert.Contains(t, page.Hyperlinks, "https://other.example.com/page")
		// The fragment variant normalizes to the same URL and is dropped.
		count := 0
		for _, l := range page.Hyperlinks {
			if l == "https://docs.example.com/guide/permissions" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("mailto links excluded", func(t *testing.T) {
		for _, l := range page.Hyperlinks {
			assert.NotContains(t, l, "mailto")
		}
	})

	t.Run("SPA router attributes recovered", func(t *testing.T) {
		assert.Contains(t, page.Hyperlinks, "https://docs.example.com/guide/router-target")
	})
}
