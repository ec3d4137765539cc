package vecstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store over a single SQLite file. Embeddings are
// kept as JSON next to the document; the vec0 index is an accelerator,
// not the source of truth, so a missing extension degrades to a scan.
type SQLiteStore struct {
	db     *sql.DB
	dim    int
	vecExt bool
}

func NewSQLiteStore(path string, dimensions int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	s := &SQLiteStore{db: db, dim: dimensions}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			importance TEXT NOT NULL,
			ts INTEGER NOT NULL,
			retain_until INTEGER NOT NULL,
			embedding TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_user ON memories (user_id, kind, ts);
	`)
	if err != nil {
		return fmt.Errorf("init memories table: %w", err)
	}

	if vecExtensionAvailable {
		_, err := s.db.Exec(fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS memories_vec USING vec0(embedding float[%d])`, s.dim))
		if err == nil {
			s.vecExt = true
		}
		// On error fall through to brute-force; the JSON column still has everything.
	}
	return nil
}

func (s *SQLiteStore) Add(ctx context.Context, doc Document, embedding []float32) (int64, error) {
	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (user_id, kind, content, importance, ts, retain_until, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		doc.UserID,
		doc.Kind,
		doc.Content,
		doc.Importance,
		doc.Timestamp.Unix(),
		doc.RetainUntil.Unix(),
		string(embJSON),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if s.vecExt {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO memories_vec (rowid, embedding) VALUES (?, ?)`,
			id, encodeFloat32Slice(embedding))
		if err != nil {
			// Index insert failure is non-fatal; searches fall back to the scan.
			s.vecExt = false
		}
	}
	return id, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("vecstore: search filter requires a user")
	}
	if k <= 0 {
		k = 5
	}

	if s.vecExt {
		results, err := s.searchANN(ctx, query, k, filter)
		if err == nil {
			return results, nil
		}
		// fall through to scan
	}
	return s.searchScan(ctx, query, k, filter)
}

// searchANN asks the vec0 index for a generous candidate set, then
// applies the metadata filter. Over-fetching covers filtered-out rows.
func (s *SQLiteStore) searchANN(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.kind, m.content, m.importance, m.ts, m.retain_until, v.distance
		FROM memories_vec v
		JOIN memories m ON m.id = v.rowid
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance
	`, encodeFloat32Slice(query), k*8)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var doc Document
		var ts, retain int64
		var distance float64
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Kind, &doc.Content, &doc.Importance, &ts, &retain, &distance); err != nil {
			return nil, err
		}
		doc.Timestamp = time.Unix(ts, 0)
		doc.RetainUntil = time.Unix(retain, 0)
		if !matchesFilter(doc, filter) {
			continue
		}
		results = append(results, Result{Document: doc, Score: 1 / (1 + distance)})
		if len(results) >= k {
			break
		}
	}
	return results, rows.Err()
}

func (s *SQLiteStore) searchScan(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	q := `SELECT id, user_id, kind, content, importance, ts, retain_until, embedding FROM memories WHERE user_id = ?`
	args := []interface{}{filter.UserID}
	if filter.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, filter.Kind)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var doc Document
		var ts, retain int64
		var embJSON string
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Kind, &doc.Content, &doc.Importance, &ts, &retain, &embJSON); err != nil {
			return nil, err
		}
		doc.Timestamp = time.Unix(ts, 0)
		doc.RetainUntil = time.Unix(retain, 0)
		if !matchesFilter(doc, filter) {
			continue
		}

		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			continue
		}
		results = append(results, Result{Document: doc, Score: cosineSimilarity(query, emb)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *SQLiteStore) ListCompressible(ctx context.Context, userID string, now, cutoff time.Time) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, content, importance, ts, retain_until
		FROM memories
		WHERE user_id = ? AND kind = ?
		  AND (retain_until < ? OR (importance <> ? AND ts < ?))
		ORDER BY ts ASC
	`, userID, KindDialogueSummary, now.Unix(), ImportanceHigh, cutoff.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var ts, retain int64
		if err := rows.Scan(&doc.ID, &doc.UserID, &doc.Kind, &doc.Content, &doc.Importance, &ts, &retain); err != nil {
			return nil, err
		}
		doc.Timestamp = time.Unix(ts, 0)
		doc.RetainUntil = time.Unix(retain, 0)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return err
		}
		if s.vecExt {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM memories_vec WHERE rowid = ?`, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func matchesFilter(doc Document, f Filter) bool {
	if doc.UserID != f.UserID {
		return false
	}
	if f.Kind != "" && doc.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && doc.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && doc.Timestamp.After(f.To) {
		return false
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeFloat32Slice serializes a vector in the little-endian layout
// sqlite-vec expects for float[] columns.
func encodeFloat32Slice(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
