package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/notedrift/geist/internal/logging"
	"github.com/notedrift/geist/internal/vecmath"
)

// initVecTable reads the embedding dimension from existing session rows,
// creates the session_vec virtual table with that dimension if it doesn't
// already exist, and backfills. No-ops if the store is empty.
func (s *DB) initVecTable() error {
	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM session_embeddings LIMIT 1`).Scan(&blob)
	if err != nil {
		return nil // no sessions yet; defer to first WriteSession
	}
	var vec []float64
	if err := json.Unmarshal(blob, &vec); err != nil || len(vec) == 0 {
		return nil
	}
	return s.ensureVecTable(len(vec))
}

// ensureVecTable creates the session_vec virtual table for the given
// dimension. Uses the session_embeddings rowid as the vec0 rowid plus
// auxiliary note/session columns; a TEXT PRIMARY KEY would partition vec0 and
// break KNN queries.
func (s *DB) ensureVecTable(dim int) error {
	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 && s.vecDim != dim {
		return fmt.Errorf("embedding dim %d doesn't match vec table dim %d", dim, s.vecDim)
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS session_vec USING vec0(
			embedding float[%d],
			+note_id TEXT,
			+session_date TEXT
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("failed to create session_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim
	return nil
}

// indexSessionVectors mirrors one session's embeddings into the vec index.
// Best-effort: the vec index is an accelerator for nearest-note queries, the
// session_embeddings table stays the source of truth.
func (s *DB) indexSessionVectors(date string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureVecTable(len(records[0].Vector)); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// An overwrite replay gives the session fresh session_embeddings rowids,
	// so the date's old vec rows would otherwise linger and serve stale KNN
	// results. Collect then delete by rowid; vec0 handles rowid deletes.
	staleRows, err := tx.Query(`SELECT rowid FROM session_vec WHERE session_date = ?`, date)
	if err == nil {
		var stale []int64
		for staleRows.Next() {
			var rowid int64
			if err := staleRows.Scan(&rowid); err == nil {
				stale = append(stale, rowid)
			}
		}
		staleRows.Close()
		for _, rowid := range stale {
			tx.Exec(`DELETE FROM session_vec WHERE rowid = ?`, rowid)
		}
	}

	var count int
	for _, r := range records {
		if len(r.Vector) != s.vecDim {
			continue
		}
		var rowid int64
		if err := tx.QueryRow(`
			SELECT rowid FROM session_embeddings WHERE session_date = ? AND note_id = ?`,
			date, r.NoteID).Scan(&rowid); err != nil {
			continue
		}
		serialized, serErr := sqlite_vec.SerializeFloat32(normalizedFloat32(r.Vector))
		if serErr != nil {
			continue
		}
		// vec0 does not reliably support INSERT OR REPLACE; use DELETE + INSERT.
		tx.Exec(`DELETE FROM session_vec WHERE rowid = ?`, rowid)
		if _, err := tx.Exec(`
			INSERT INTO session_vec(rowid, embedding, note_id, session_date) VALUES (?, ?, ?, ?)`,
			rowid, serialized, r.NoteID, date); err != nil {
			logging.Debug("store", "vec insert failed for %s: %v", r.NoteID, err)
			continue
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Debug("store", "vec index: %d vectors for %s (dim=%d)", count, date, s.vecDim)
	return nil
}

// NearestNotes returns up to k note ids from one session ordered by cosine
// similarity to the query vector, most similar first. Uses the vec0 index
// when available, otherwise a full scan over the session rows. Results are
// identical either way; only the cost differs.
func (s *DB) NearestNotes(date string, query []float64, k int) ([]string, error) {
	if s.vecAvailable && s.vecDim == len(query) {
		ids, err := s.nearestViaVec(date, query, k)
		if err == nil {
			return ids, nil
		}
		logging.Debug("store", "vec KNN failed, falling back to scan: %v", err)
	}
	return s.nearestViaScan(date, query, k)
}

func (s *DB) nearestViaVec(date string, query []float64, k int) ([]string, error) {
	serialized, err := sqlite_vec.SerializeFloat32(normalizedFloat32(query))
	if err != nil {
		return nil, err
	}
	// Over-fetch then filter by session, since aux columns can't constrain
	// the KNN itself.
	rows, err := s.db.Query(`
		SELECT note_id, session_date FROM session_vec
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`, serialized, k*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, d string
		if err := rows.Scan(&id, &d); err != nil {
			continue
		}
		if d == date {
			ids = append(ids, id)
			if len(ids) == k {
				break
			}
		}
	}
	return ids, rows.Err()
}

func (s *DB) nearestViaScan(date string, query []float64, k int) ([]string, error) {
	sess, err := s.ReadSession(date)
	if err != nil {
		return nil, err
	}

	type scored struct {
		id  string
		sim float64
	}
	var candidates []scored
	for id, r := range sess.Records {
		candidates = append(candidates, scored{id: id, sim: vecmath.CosineSimilarity(query, r.Vector)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].id < candidates[j].id
	})

	result := make([]string, 0, k)
	for i := 0; i < len(candidates) && i < k; i++ {
		result = append(result, candidates[i].id)
	}
	return result, nil
}

// normalizedFloat32 converts to float32 and normalizes to unit length, so L2
// distance in vec0 orders the same way as cosine distance.
func normalizedFloat32(v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}
