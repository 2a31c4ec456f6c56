// Package sqlitevec is the SQLite run ledger. Besides run bookkeeping it
// stores extracted epochs as float32 vectors so later runs with the same
// extraction settings can skip EDF decoding.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the ledger database.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
	  id TEXT PRIMARY KEY,
	  started INTEGER NOT NULL,
	  finished INTEGER,
	  status TEXT NOT NULL,
	  data_path TEXT NOT NULL,
	  output_path TEXT NOT NULL,
	  metrics TEXT
	);
	CREATE TABLE IF NOT EXISTS subject_results (
	  run_id TEXT NOT NULL,
	  subject TEXT NOT NULL,
	  status TEXT NOT NULL,
	  reason TEXT,
	  epochs INTEGER NOT NULL,
	  PRIMARY KEY (run_id, subject)
	);
	CREATE TABLE IF NOT EXISTS train_history (
	  run_id TEXT NOT NULL,
	  epoch INTEGER NOT NULL,
	  loss REAL NOT NULL,
	  accuracy REAL NOT NULL,
	  val_loss REAL,
	  val_accuracy REAL,
	  PRIMARY KEY (run_id, epoch)
	);
	CREATE TABLE IF NOT EXISTS epoch_cache (
	  subject TEXT NOT NULL,
	  fingerprint TEXT NOT NULL,
	  seq INTEGER NOT NULL,
	  label INTEGER NOT NULL,
	  vector BLOB NOT NULL,
	  PRIMARY KEY (subject, fingerprint, seq)
	);
	`)
	return err
}

// Run is one row of the runs table.
type Run struct {
	ID         string
	Started    time.Time
	Finished   time.Time // zero while running
	Status     string
	DataPath   string
	OutputPath string
	Metrics    string // JSON, empty until finished
}

// StartRun records a new run in status "running".
func (d *DB) StartRun(ctx context.Context, id, dataPath, outputPath string, started time.Time) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO runs(id, started, status, data_path, output_path) VALUES(?,?,?,?,?)`,
		id, started.UnixMilli(), "running", dataPath, outputPath)
	return err
}

// FinishRun sets the final status and stores metrics as JSON.
func (d *DB) FinishRun(ctx context.Context, id, status string, finished time.Time, metrics any) error {
	var mstr *string
	if metrics != nil {
		mb, err := json.Marshal(metrics)
		if err != nil {
			return err
		}
		ms := string(mb)
		mstr = &ms
	}
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET finished=?, status=?, metrics=? WHERE id=?`,
		finished.UnixMilli(), status, mstr, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Runs returns the most recent runs first.
func (d *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT id, started, COALESCE(finished, 0), status, data_path, output_path, COALESCE(metrics, '')
		FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.DataPath, &r.OutputPath, &r.Metrics); err != nil {
			return nil, err
		}
		r.Started = time.UnixMilli(started).UTC()
		if finished > 0 {
			r.Finished = time.UnixMilli(finished).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SubjectResult is the stored outcome of one subject in a run.
type SubjectResult struct {
	Subject string
	Status  string
	Reason  string
	Epochs  int
}

func (d *DB) PutSubjectResult(ctx context.Context, runID string, r SubjectResult) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO subject_results(run_id, subject, status, reason, epochs) VALUES(?,?,?,?,?)
		ON CONFLICT(run_id, subject) DO UPDATE SET status=excluded.status, reason=excluded.reason, epochs=excluded.epochs`,
		runID, r.Subject, r.Status, r.Reason, r.Epochs)
	return err
}

func (d *DB) SubjectResults(ctx context.Context, runID string) ([]SubjectResult, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT subject, status, COALESCE(reason, ''), epochs FROM subject_results WHERE run_id=? ORDER BY subject`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SubjectResult
	for rows.Next() {
		var r SubjectResult
		if err := rows.Scan(&r.Subject, &r.Status, &r.Reason, &r.Epochs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EpochRow is one training epoch of a run. ValLoss and ValAccuracy are NaN
// when the run had no validation split.
type EpochRow struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
}

func (d *DB) PutEpoch(ctx context.Context, runID string, e EpochRow) error {
	var vl, va *float64
	if !math.IsNaN(e.ValLoss) {
		vl, va = &e.ValLoss, &e.ValAccuracy
	}
	_, err := d.sql.ExecContext(ctx, `INSERT INTO train_history(run_id, epoch, loss, accuracy, val_loss, val_accuracy) VALUES(?,?,?,?,?,?)`,
		runID, e.Epoch, e.Loss, e.Accuracy, vl, va)
	return err
}

func (d *DB) History(ctx context.Context, runID string) ([]EpochRow, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT epoch, loss, accuracy, val_loss, val_accuracy FROM train_history WHERE run_id=? ORDER BY epoch`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EpochRow
	for rows.Next() {
		var e EpochRow
		var vl, va sql.NullFloat64
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &vl, &va); err != nil {
			return nil, err
		}
		e.ValLoss, e.ValAccuracy = math.NaN(), math.NaN()
		if vl.Valid {
			e.ValLoss, e.ValAccuracy = vl.Float64, va.Float64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutEpochs replaces the cached epochs of subject under fingerprint.
func (d *DB) PutEpochs(ctx context.Context, subject, fingerprint string, epochs [][]float64, labels []int) error {
	if len(epochs) != len(labels) {
		return fmt.Errorf("%d epochs but %d labels", len(epochs), len(labels))
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM epoch_cache WHERE subject=? AND fingerprint=?`, subject, fingerprint); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO epoch_cache(subject, fingerprint, seq, label, vector) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range epochs {
		if _, err := stmt.ExecContext(ctx, subject, fingerprint, i, labels[i], encodeF32(e)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadEpochs returns the cached epochs of subject, or ok=false when none
// are stored under fingerprint.
func (d *DB) LoadEpochs(ctx context.Context, subject, fingerprint string) (epochs [][]float64, labels []int, ok bool, err error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT label, vector FROM epoch_cache WHERE subject=? AND fingerprint=? ORDER BY seq`, subject, fingerprint)
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var l int
		var vb []byte
		if err := rows.Scan(&l, &vb); err != nil {
			return nil, nil, false, err
		}
		epochs = append(epochs, decodeF32(vb))
		labels = append(labels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}
	return epochs, labels, len(epochs) > 0, nil
}

func encodeF32(v []float64) []byte {
	b := make([]byte, 4*len(v))
	for i := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(v[i])))
	}
	return b
}

func decodeF32(b []byte) []float64 {
	n := len(b) / 4
	v := make([]float64, n)
	for i := 0; i < n; i++ {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return v
}
