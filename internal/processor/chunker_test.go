package processor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, ContentHash("hello world"), ContentHash("hello world"))
	})

	t.Run("distinct content distinct hash", func(t *testing.T) {
		assert.NotEqual(t, ContentHash("hello world"), ContentHash("hello worlds"))
	})

	t.Run("hex encoded sha256", func(t *testing.T) {
		assert.Len(t, ContentHash(""), 64)
	})
}

func TestChunkDocument(t *testing.T) {
	t.Run("empty content yields no chunks", func(t *testing.T) {
		assert.Empty(t, ChunkDocument("", nil, 1000, 200))
		assert.Empty(t, ChunkDocument("   \n\t", nil, 1000, 200))
	})

	t.Run("short content is a single chunk", func(t *testing.T) {
		chunks := ChunkDocument("just a short sentence", nil, 1000, 200)
		require.Len(t, chunks, 1)
		assert.Equal(t, "just a short sentence", chunks[0].Content)
		assert.Equal(t, 0, chunks[0].Index)
	})

	t.Run("splits on word boundaries without overlap", func(t *testing.T) {
		chunks := ChunkDocument("one two three four five", nil, 10, 0)
		require.Len(t, chunks, 3)
		assert.Equal(t, "one two", chunks[0].Content)
		assert.Equal(t, "three four", chunks[1].Content)
		assert.Equal(t, "five", chunks[2].Content)
	})

	t.Run("indices are contiguous from zero", func(t *testing.T) {
		content := strings.Repeat("word ", 500)
		chunks := ChunkDocument(content, nil, 100, 0)
		require.NotEmpty(t, chunks)
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
		}
	})

	t.Run("no words are lost", func(t *testing.T) {
		content := "alpha beta gamma delta epsilon zeta eta theta"
		chunks := ChunkDocument(content, nil, 15, 0)
		var rejoined []string
		for _, c := range chunks {
			rejoined = append(rejoined, c.Content)
		}
		assert.Equal(t, content, strings.Join(rejoined, " "))
	})

	t.Run("consecutive chunks share overlap words", func(t *testing.T) {
		chunks := ChunkDocument("aa bb cc dd", nil, 5, 12)
		require.GreaterOrEqual(t, len(chunks), 2)
		firstWords := strings.Fields(chunks[0].Content)
		tail := strings.Join(firstWords[len(firstWords)-2:], " ")
		assert.True(t, strings.HasPrefix(chunks[1].Content, tail),
			"chunk %q should start with tail %q of previous chunk", chunks[1].Content, tail)
	})

	t.Run("chunks carry the active section heading", func(t *testing.T) {
		first := "Getting Started\n" + strings.Repeat("install the agent and verify it runs ", 10)
		second := "Advanced Use\n" + strings.Repeat("tune the crawler settings carefully ", 10)
		chunks := ChunkDocument(first+second, []string{"Getting Started", "Advanced Use"}, 150, 0)
		require.GreaterOrEqual(t, len(chunks), 3)
		assert.Equal(t, "Getting Started", chunks[0].Heading)
		assert.Equal(t, "Advanced Use", chunks[len(chunks)-1].Heading)
	})

	t.Run("headings absent from content are ignored", func(t *testing.T) {
		chunks := ChunkDocument("plain text with no headings at all", []string{"Missing"}, 1000, 0)
		require.Len(t, chunks, 1)
		assert.Empty(t, chunks[0].Heading)
	})
}
