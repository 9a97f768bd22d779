package processor

import (
	"sort"
	"strings"

	"ticket-triage/internal/models"
)

type word struct {
	text   string
	offset int
}

// ChunkDocument splits content into word-aligned chunks of roughly chunkSize
// characters. Consecutive chunks share an overlap seeded from the tail of the
// previous chunk, and each chunk is tagged with the section heading in effect
// where it starts.
func ChunkDocument(content string, headings []string, chunkSize, overlap int) []models.Chunk {
	words := splitWords(content)
	if len(words) == 0 {
		return nil
	}

	headingAt := headingOffsets(content, headings)

	// The overlap is expressed in characters; carry over roughly that many
	// characters' worth of words, assuming an average word length of 6.
	carryWords := overlap / 6

	var chunks []models.Chunk
	var current []string
	currentLen := 0
	chunkStart := words[0].offset

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, models.Chunk{
			Content: strings.Join(current, " "),
			Index:   len(chunks),
			Heading: activeHeading(headingAt, chunkStart),
		})
	}

	for _, w := range words {
		if currentLen > 0 && currentLen+1+len(w.text) > chunkSize {
			flush()
			// Seed the next chunk with the tail of this one so sentences
			// split at a boundary stay searchable.
			tail := current
			if len(tail) > carryWords {
				tail = tail[len(tail)-carryWords:]
			}
			current = append([]string(nil), tail...)
			currentLen = len(strings.Join(current, " "))
			chunkStart = w.offset
		}
		current = append(current, w.text)
		if currentLen > 0 {
			currentLen++
		}
		currentLen += len(w.text)
	}
	flush()

	return chunks
}

func splitWords(content string) []word {
	var words []word
	start := -1
	for i, r := range content {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if start >= 0 {
				words = append(words, word{text: content[start:i], offset: start})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{text: content[start:], offset: start})
	}
	return words
}

type headingPos struct {
	text   string
	offset int
}

func headingOffsets(content string, headings []string) []headingPos {
	var out []headingPos
	searchFrom := 0
	for _, h := range headings {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		idx := strings.Index(content[searchFrom:], h)
		if idx < 0 {
			continue
		}
		out = append(out, headingPos{text: h, offset: searchFrom + idx})
		searchFrom += idx + len(h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].offset < out[j].offset })
	return out
}

// activeHeading returns the last heading that appears at or before the chunk
// start, allowing a heading that begins within the first 50 characters of the
// chunk to claim it.
func activeHeading(headings []headingPos, chunkStart int) string {
	heading := ""
	for _, h := range headings {
		if h.offset <= chunkStart+50 {
			heading = h.text
		}
	}
	return heading
}
