// Package store persists the tariff, the appliance catalog, fetched
// forecasts, and planning runs in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loadshift/loadshift/internal/engine"
	"github.com/loadshift/loadshift/internal/forecast"
)

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("not found")

// Store handles persistent storage using SQLite
type Store struct {
	db *sql.DB
}

// Run summarizes one persisted planning run.
type Run struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	Recommendations int       `json:"recommendations"`
	TotalSavingsUSD float64   `json:"total_savings_usd"`
}

// NewStore creates a new store and initializes the database
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tariffs (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		on_peak_rate REAL NOT NULL,
		off_peak_rate REAL NOT NULL,
		on_peak TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS appliances (
		name TEXT PRIMARY KEY,
		duration_min INTEGER NOT NULL,
		kwh REAL NOT NULL,
		flex_windows TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS forecast_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		day TEXT NOT NULL,
		samples TEXT NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source, day)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		recommendation_count INTEGER NOT NULL,
		total_savings_usd REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS recommendations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		appliance TEXT NOT NULL,
		payload TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_cache_day ON forecast_cache(source, day);
	CREATE INDEX IF NOT EXISTS idx_recommendations_run ON recommendations(run_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveTariff stores the household tariff, replacing any previous one.
func (s *Store) SaveTariff(t engine.Tariff) error {
	onPeakJSON, _ := json.Marshal(t.OnPeak)

	query := `INSERT OR REPLACE INTO tariffs (id, on_peak_rate, off_peak_rate, on_peak, updated_at)
		VALUES (1, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, t.OnPeakRate, t.OffPeakRate, string(onPeakJSON), time.Now())
	return err
}

// GetTariff retrieves the household tariff.
func (s *Store) GetTariff() (engine.Tariff, error) {
	var t engine.Tariff
	var onPeakJSON string

	err := s.db.QueryRow(`SELECT on_peak_rate, off_peak_rate, on_peak FROM tariffs WHERE id = 1`).
		Scan(&t.OnPeakRate, &t.OffPeakRate, &onPeakJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}

	json.Unmarshal([]byte(onPeakJSON), &t.OnPeak)
	return t, nil
}

// SaveAppliance inserts or updates an appliance. Updates keep the row's
// original catalog position.
func (s *Store) SaveAppliance(a engine.Appliance) error {
	windowsJSON, _ := json.Marshal(a.FlexWindows)

	query := `INSERT INTO appliances (name, duration_min, kwh, flex_windows, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			duration_min = excluded.duration_min,
			kwh = excluded.kwh,
			flex_windows = excluded.flex_windows,
			updated_at = excluded.updated_at`

	_, err := s.db.Exec(query, a.Name, a.DurationMin, a.KWh, string(windowsJSON), time.Now())
	return err
}

// GetAppliance retrieves a single appliance by name.
func (s *Store) GetAppliance(name string) (engine.Appliance, error) {
	var a engine.Appliance
	var windowsJSON string

	err := s.db.QueryRow(`SELECT name, duration_min, kwh, flex_windows FROM appliances WHERE name = ?`, name).
		Scan(&a.Name, &a.DurationMin, &a.KWh, &windowsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}

	json.Unmarshal([]byte(windowsJSON), &a.FlexWindows)
	return a, nil
}

// ListAppliances returns the catalog in the order appliances were added.
func (s *Store) ListAppliances() ([]engine.Appliance, error) {
	rows, err := s.db.Query(`SELECT name, duration_min, kwh, flex_windows FROM appliances ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appliances := []engine.Appliance{}
	for rows.Next() {
		var a engine.Appliance
		var windowsJSON string
		if err := rows.Scan(&a.Name, &a.DurationMin, &a.KWh, &windowsJSON); err != nil {
			continue
		}
		json.Unmarshal([]byte(windowsJSON), &a.FlexWindows)
		appliances = append(appliances, a)
	}

	return appliances, rows.Err()
}

// DeleteAppliance removes an appliance by name.
func (s *Store) DeleteAppliance(name string) error {
	res, err := s.db.Exec(`DELETE FROM appliances WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CacheForecast stores fetched samples for a provider and local day.
func (s *Store) CacheForecast(source string, day time.Time, samples []forecast.Sample) error {
	samplesJSON, _ := json.Marshal(samples)
	dayStr := day.Format("2006-01-02")

	query := `INSERT OR REPLACE INTO forecast_cache (source, day, samples, fetched_at)
		VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(query, source, dayStr, string(samplesJSON), time.Now())
	return err
}

// GetCachedForecast retrieves cached samples for a provider and local day.
func (s *Store) GetCachedForecast(source string, day time.Time) ([]forecast.Sample, error) {
	dayStr := day.Format("2006-01-02")

	var samplesJSON string
	err := s.db.QueryRow(`SELECT samples FROM forecast_cache WHERE source = ? AND day = ?`, source, dayStr).
		Scan(&samplesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var samples []forecast.Sample
	if err := json.Unmarshal([]byte(samplesJSON), &samples); err != nil {
		return nil, err
	}

	return samples, nil
}

// SaveRun persists a ranked plan and returns its summary.
func (s *Store) SaveRun(recs []engine.Recommendation) (Run, error) {
	run := Run{
		ID:              uuid.NewString(),
		CreatedAt:       time.Now().UTC(),
		Recommendations: len(recs),
	}
	for _, r := range recs {
		run.TotalSavingsUSD += r.EstSavingsUSD
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs (id, created_at, recommendation_count, total_savings_usd)
		VALUES (?, ?, ?, ?)`,
		run.ID, run.CreatedAt, run.Recommendations, run.TotalSavingsUSD)
	if err != nil {
		return Run{}, err
	}

	for i, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			return Run{}, err
		}
		_, err = tx.Exec(`INSERT INTO recommendations (run_id, position, appliance, payload)
			VALUES (?, ?, ?, ?)`,
			run.ID, i, rec.Appliance, string(payload))
		if err != nil {
			return Run{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// LatestRun returns the most recent run and its recommendations in rank order.
func (s *Store) LatestRun() (Run, []engine.Recommendation, error) {
	var run Run
	err := s.db.QueryRow(`SELECT id, created_at, recommendation_count, total_savings_usd
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`).
		Scan(&run.ID, &run.CreatedAt, &run.Recommendations, &run.TotalSavingsUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, ErrNotFound
	}
	if err != nil {
		return Run{}, nil, err
	}

	rows, err := s.db.Query(`SELECT payload FROM recommendations WHERE run_id = ? ORDER BY position`, run.ID)
	if err != nil {
		return Run{}, nil, err
	}
	defer rows.Close()

	recs := []engine.Recommendation{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var rec engine.Recommendation
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}

	return run, recs, rows.Err()
}
