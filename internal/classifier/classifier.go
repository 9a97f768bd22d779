package classifier

import (
	"math"
	"sort"

	"ticket-triage/internal/models"
)

// CosineSimilarity returns the cosine of the angle between a and b, or -1
// when the vectors cannot be compared (length mismatch or a zero norm). -1
// sorts below every real similarity, so broken candidates never match.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Candidate is a labeled embedding to match against.
type Candidate struct {
	Label     string
	Embedding []float32
}

// Match is one scored candidate. Index refers to the input candidate slice.
type Match struct {
	Index int
	Label string
	Score float64
}

// TopMatches scores every candidate against the query embedding and returns
// the best k in descending order. Ties keep the candidates' input order.
func TopMatches(query []float32, candidates []Candidate, k int) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		matches = append(matches, Match{
			Index: i,
			Label: c.Label,
			Score: CosineSimilarity(query, c.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Classifier assigns topic tags, sentiment and priority to a ticket embedding
// by nearest-neighbor match against reference label embeddings.
type Classifier struct {
	topicThreshold float64
	topicTagLimit  int
}

func New(topicThreshold float64, topicTagLimit int) *Classifier {
	return &Classifier{
		topicThreshold: topicThreshold,
		topicTagLimit:  topicTagLimit,
	}
}

// Reference groups the stored reference embeddings by category.
type Reference struct {
	Topics     []Candidate
	Sentiments []Candidate
	Priorities []Candidate
}

// Classify matches the ticket embedding against each reference category.
// Topics above the threshold are kept, capped at the tag limit; sentiment and
// priority take the single best label regardless of score, and stay empty
// only when their category has no references at all. Confidence is the mean
// score of the selected labels.
func (c *Classifier) Classify(refs Reference, embedding []float32) models.Classification {
	var cls models.Classification
	var scores []float64

	for _, m := range TopMatches(embedding, refs.Topics, c.topicTagLimit) {
		if m.Score > c.topicThreshold {
			cls.TopicTags = append(cls.TopicTags, m.Label)
			scores = append(scores, m.Score)
		}
	}

	if best := TopMatches(embedding, refs.Sentiments, 1); len(best) > 0 {
		cls.Sentiment = best[0].Label
		scores = append(scores, best[0].Score)
	}
	if best := TopMatches(embedding, refs.Priorities, 1); len(best) > 0 {
		cls.Priority = best[0].Label
		scores = append(scores, best[0].Score)
	}

	if len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		cls.Confidence = sum / float64(len(scores))
	}
	return cls
}
