package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"codenerd/internal/logging"
)

// initVecIndex attempts to create a sqlite-vec virtual table (vec_index).
// It is best-effort: when the sqlite-vec extension is not compiled in (the
// init_vec.go registration requires the sqlite_vec+cgo build tags), the
// CREATE VIRTUAL TABLE call fails and it returns false. When the table
// exists, StoreEmbedding also copies each vector into it, but VectorSearch
// never queries it: search is always a brute-force cosine scan over the
// plain `embeddings` table.
func (s *Store) initVecIndex(dimensions int) bool {
	if dimensions <= 0 {
		return false
	}
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(
		target_key TEXT PRIMARY KEY,
		embedding FLOAT[%d]
	)`, dimensions)
	if _, err := s.db.Exec(stmt); err != nil {
		logging.StoreDebug("sqlite-vec unavailable, using brute-force cosine scan: %v", err)
		return false
	}
	logging.Store("sqlite-vec virtual table ready (dimensions=%d)", dimensions)
	return true
}

// StoreEmbedding persists a vector for a fragment or claim, keyed by
// (target_id, target_type). Overwrites any existing vector for that key.
func (s *Store) StoreEmbedding(row EmbeddingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(row.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding vector: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO embeddings (target_id, target_type, vector_json, dimensions)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(target_id, target_type) DO UPDATE SET vector_json = excluded.vector_json, dimensions = excluded.dimensions`,
		row.TargetID, string(row.TargetType), string(data), len(row.Vector),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if s.vecEnabled {
		key := string(row.TargetType) + ":" + row.TargetID
		if _, err := s.db.Exec(
			`INSERT OR REPLACE INTO vec_index (target_key, embedding) VALUES (?, ?)`,
			key, string(data),
		); err != nil {
			logging.StoreDebug("vec_index upsert failed, continuing with brute-force fallback: %v", err)
		}
	}
	return nil
}

// VectorSearchResult is one ranked hit from VectorSearch.
type VectorSearchResult struct {
	TargetID   string
	TargetType EmbeddingTargetType
	Similarity float64
}

// VectorSearch returns the top-k nearest embeddings to query by cosine
// similarity, restricted to targetType, scanning every stored vector of that
// type.
func (s *Store) VectorSearch(query []float32, targetType EmbeddingTargetType, topK int) ([]VectorSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT target_id, vector_json FROM embeddings WHERE target_type = ?`,
		string(targetType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	results := make([]VectorSearchResult, 0, 64)
	for rows.Next() {
		var targetID, vecJSON string
		if err := rows.Scan(&targetID, &vecJSON); err != nil {
			return nil, err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(vecJSON), &vec); err != nil {
			continue
		}
		sim := cosineSimilarity(query, vec)
		results = append(results, VectorSearchResult{TargetID: targetID, TargetType: targetType, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
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
