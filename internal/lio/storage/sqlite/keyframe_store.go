// Package sqlite persists accepted keyframes and loop edges. It is an
// adapter behind lio.KeyframeSink, not a domain layer; the mapping worker
// never sees SQL.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tailor-robotics/tailor/internal/lio"
)

// Keyframe is one persisted trajectory pose.
type Keyframe struct {
	RunID          string
	Seq            int
	TsSecs         float64
	TX, TY, TZ     float64
	QX, QY, QZ, QW float64
}

// KeyframeStore writes one mapping run's trajectory to SQLite.
type KeyframeStore struct {
	db    *sql.DB
	runID string
}

// NewKeyframeStore registers a new mapping run and returns its store.
func NewKeyframeStore(db *sql.DB) (*KeyframeStore, error) {
	runID := fmt.Sprintf("run_%s", uuid.NewString())
	_, err := db.Exec(
		"INSERT INTO mapping_runs (run_id, started_at_ns) VALUES (?, ?)",
		runID, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert mapping run: %w", err)
	}
	return &KeyframeStore{db: db, runID: runID}, nil
}

// RunID returns the identifier of this mapping run.
func (s *KeyframeStore) RunID() string { return s.runID }

// PersistKeyframe writes one accepted keyframe pose.
func (s *KeyframeStore) PersistKeyframe(seq int, ts float64, pose lio.Matrix4) error {
	tx, ty, tz := pose.Translation()
	qx, qy, qz, qw := pose.Quaternion()
	_, err := s.db.Exec(`
		INSERT INTO keyframes (run_id, seq, ts_secs, tx, ty, tz, qx, qy, qz, qw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, seq, ts, tx, ty, tz, qx, qy, qz, qw,
	)
	if err != nil {
		return fmt.Errorf("insert keyframe %d: %w", seq, err)
	}
	return nil
}

// RewritePose updates a keyframe pose after a loop-closure correction.
func (s *KeyframeStore) RewritePose(seq int, pose lio.Matrix4) error {
	tx, ty, tz := pose.Translation()
	qx, qy, qz, qw := pose.Quaternion()
	res, err := s.db.Exec(`
		UPDATE keyframes SET tx = ?, ty = ?, tz = ?, qx = ?, qy = ?, qz = ?, qw = ?
		WHERE run_id = ? AND seq = ?`,
		tx, ty, tz, qx, qy, qz, qw, s.runID, seq,
	)
	if err != nil {
		return fmt.Errorf("rewrite keyframe %d: %w", seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rewrite keyframe %d: no such row", seq)
	}
	return nil
}

// PersistLoopEdge writes one accepted loop edge. Re-persisting the same
// edge after repeated corrections is a no-op.
func (s *KeyframeStore) PersistLoopEdge(edge lio.LoopEdge) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO loop_edges (run_id, source_seq, target_seq)
		VALUES (?, ?, ?)`,
		s.runID, edge.Source, edge.Target,
	)
	if err != nil {
		return fmt.Errorf("insert loop edge %d->%d: %w", edge.Source, edge.Target, err)
	}
	return nil
}

// ListKeyframes returns the run's keyframes in sequence order.
func (s *KeyframeStore) ListKeyframes() ([]Keyframe, error) {
	rows, err := s.db.Query(`
		SELECT run_id, seq, ts_secs, tx, ty, tz, qx, qy, qz, qw
		FROM keyframes WHERE run_id = ? ORDER BY seq`,
		s.runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list keyframes: %w", err)
	}
	defer rows.Close()

	var out []Keyframe
	for rows.Next() {
		var kf Keyframe
		if err := rows.Scan(&kf.RunID, &kf.Seq, &kf.TsSecs,
			&kf.TX, &kf.TY, &kf.TZ, &kf.QX, &kf.QY, &kf.QZ, &kf.QW); err != nil {
			return nil, fmt.Errorf("scan keyframe: %w", err)
		}
		out = append(out, kf)
	}
	return out, rows.Err()
}

// CountLoopEdges returns the number of persisted loop edges for this run.
func (s *KeyframeStore) CountLoopEdges() (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM loop_edges WHERE run_id = ?", s.runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count loop edges: %w", err)
	}
	return n, nil
}
