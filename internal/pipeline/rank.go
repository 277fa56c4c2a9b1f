package pipeline

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// bm25K1 and bm25B are the standard Okapi BM25 tuning constants; the example
// pack carries no BM25 library, so this is a small justified-stdlib helper
// (see DESIGN.md) that feeds the embedding-cosine score before the gateway's
// cross-encoder-style Rerank call narrows to the final top-k.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// BM25Scores scores every doc in docs against query using Okapi BM25 over
// the doc set itself as the corpus.
func BM25Scores(query string, docs map[string]string) map[string]float64 {
	queryTerms := tokenize(query)
	if len(docs) == 0 || len(queryTerms) == 0 {
		return map[string]float64{}
	}

	docTerms := make(map[string][]string, len(docs))
	docFreq := make(map[string]int) // term -> number of docs containing it
	var totalLen float64
	for id, text := range docs {
		terms := tokenize(text)
		docTerms[id] = terms
		totalLen += float64(len(terms))
		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				docFreq[t]++
			}
		}
	}
	avgLen := totalLen / float64(len(docs))
	n := float64(len(docs))

	scores := make(map[string]float64, len(docs))
	for id, terms := range docTerms {
		termCount := make(map[string]int, len(terms))
		for _, t := range terms {
			termCount[t]++
		}
		docLen := float64(len(terms))

		var score float64
		for _, qt := range queryTerms {
			tf := float64(termCount[qt])
			if tf == 0 {
				continue
			}
			df := float64(docFreq[qt])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			numerator := tf * (bm25K1 + 1)
			denominator := tf + bm25K1*(1-bm25B+bm25B*docLen/avgLen)
			score += idf * numerator / denominator
		}
		scores[id] = score
	}
	return scores
}

// normalizeScores min-max scales a score map into [0, 1] so BM25 and cosine
// similarity can be combined without one dominating on scale alone.
func normalizeScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range scores {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make(map[string]float64, len(scores))
	if max == min {
		for id := range scores {
			out[id] = 0
		}
		return out
	}
	for id, v := range scores {
		out[id] = (v - min) / (max - min)
	}
	return out
}

// bm25Weight and cosineWeight combine the lexical and semantic signals
// before reranking narrows to the final candidate set.
const (
	bm25Weight   = 0.4
	cosineWeight = 0.6
)

// RankedFragment is one fragment carried forward to the reranker, with its
// combined BM25+cosine score.
type RankedFragment struct {
	FragmentID string
	Score      float64
}

// CombineAndTopK blends normalized BM25 and cosine-similarity scores and
// returns the topK highest-scoring fragment IDs, descending.
func CombineAndTopK(bm25, cosine map[string]float64, topK int) []RankedFragment {
	ids := make(map[string]bool)
	for id := range bm25 {
		ids[id] = true
	}
	for id := range cosine {
		ids[id] = true
	}
	normBM25 := normalizeScores(bm25)
	normCosine := normalizeScores(cosine)

	ranked := make([]RankedFragment, 0, len(ids))
	for id := range ids {
		score := bm25Weight*normBM25[id] + cosineWeight*normCosine[id]
		ranked = append(ranked, RankedFragment{FragmentID: id, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].FragmentID < ranked[j].FragmentID
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// cosineSimilarity32 scores two embedding vectors already in memory (the
// rank step embeds fragments fresh rather than going through the durable
// vector index, since the candidates haven't been stored yet).
func cosineSimilarity32(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
