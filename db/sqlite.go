package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"bristolhouse/ml"
)

// ErrNotFound is returned when no training record matches.
var ErrNotFound = errors.New("training record not found")

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_version TEXT NOT NULL,
        model_path TEXT NOT NULL,
        mae REAL,
        mse REAL,
        rmse REAL,
        r2 REAL,
        mape REAL,
        data_points INTEGER,
        params TEXT,
        trained_at DATETIME NOT NULL,
        evaluated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );
    CREATE INDEX IF NOT EXISTS idx_training_log_version ON training_log(model_version, evaluated_at);
    `

// TrainingRecord is one evaluation of a trained artifact.
type TrainingRecord struct {
	ID           int64           `json:"id"`
	ModelVersion string          `json:"model_version"`
	ModelPath    string          `json:"model_path"`
	Metrics      ml.Metrics      `json:"metrics"`
	Params       json.RawMessage `json:"params,omitempty"`
	TrainedAt    time.Time       `json:"trained_at"`
	EvaluatedAt  time.Time       `json:"evaluated_at"`
}

// Store is the SQLite training registry.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	database.SetMaxOpenConns(1)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveTrainingLog appends a record and returns its id.
func (s *Store) SaveTrainingLog(ctx context.Context, rec TrainingRecord) (int64, error) {
	if rec.ModelVersion == "" {
		return 0, errors.New("model version required")
	}
	evaluatedAt := rec.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now().UTC()
	}
	var params sql.NullString
	if len(rec.Params) > 0 {
		params = sql.NullString{String: string(rec.Params), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            model_version, model_path, mae, mse, rmse, r2, mape,
            data_points, params, trained_at, evaluated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ModelVersion, rec.ModelPath,
		rec.Metrics.MAE, rec.Metrics.MSE, rec.Metrics.RMSE, rec.Metrics.R2, rec.Metrics.MAPE,
		rec.Metrics.Samples, params, rec.TrainedAt.UTC(), evaluatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert training log: %w", err)
	}
	return res.LastInsertId()
}

// LatestForVersion returns the most recent evaluation of an artifact version.
func (s *Store) LatestForVersion(ctx context.Context, version string) (*TrainingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, model_version, model_path, mae, mse, rmse, r2, mape,
               data_points, params, trained_at, evaluated_at
        FROM training_log
        WHERE model_version = ?
        ORDER BY evaluated_at DESC, id DESC
        LIMIT 1`, version)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// LoadTrainingLog lists records newest first.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, model_version, model_path, mae, mse, rmse, r2, mape,
               data_points, params, trained_at, evaluated_at
        FROM training_log
        ORDER BY evaluated_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]TrainingRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*TrainingRecord, error) {
	var rec TrainingRecord
	var params sql.NullString
	err := sc.Scan(&rec.ID, &rec.ModelVersion, &rec.ModelPath,
		&rec.Metrics.MAE, &rec.Metrics.MSE, &rec.Metrics.RMSE, &rec.Metrics.R2, &rec.Metrics.MAPE,
		&rec.Metrics.Samples, &params, &rec.TrainedAt, &rec.EvaluatedAt)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		rec.Params = json.RawMessage(params.String)
	}
	return &rec, nil
}
