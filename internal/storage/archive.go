package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mtvedt/qalyboot/internal/models"
)

// Archive persists the per-replicate ensemble behind each run to SQLite.
// The run store keeps only aggregates; the archive keeps every retained
// coefficient sample and group draw so quantiles can be recomputed or
// inspected after the fact without re-running the bootstrap.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (or creates) the archive database at path and ensures
// the schema exists.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `CREATE TABLE IF NOT EXISTS runs (
        run_id TEXT PRIMARY KEY,
        created_at DATETIME NOT NULL,
        dataset TEXT NOT NULL,
        seed INTEGER NOT NULL,
        replicates INTEGER NOT NULL,
        draw_size INTEGER NOT NULL,
        retained INTEGER NOT NULL,
        dropped INTEGER NOT NULL,
        formula TEXT NOT NULL,
        adapter TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS coefficient_samples (
        run_id TEXT NOT NULL,
        replicate INTEGER NOT NULL,
        name TEXT NOT NULL,
        estimate REAL NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_samples_run_name ON coefficient_samples(run_id, name);
    CREATE TABLE IF NOT EXISTS group_draws (
        run_id TEXT NOT NULL,
        replicate INTEGER NOT NULL,
        age_group TEXT NOT NULL,
        qaly_type TEXT NOT NULL,
        value REAL NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_draws_run_group ON group_draws(run_id, age_group, qaly_type);`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// SaveRun archives one run with its retained ensemble inside a single
// transaction. A run id can only be archived once.
func (a *Archive) SaveRun(ctx context.Context, run *models.RunSummary, samples []models.CoefficientSample, draws []models.GroupDraw) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
run_id, created_at, dataset, seed, replicates, draw_size, retained, dropped, formula, adapter
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.CreatedAt,
		run.Dataset,
		run.Seed,
		run.Replicates,
		run.DrawSize,
		run.Retained,
		run.Dropped,
		run.Formula,
		run.Adapter,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	sampleStmt, err := tx.PrepareContext(ctx, `INSERT INTO coefficient_samples (run_id, replicate, name, estimate) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer sampleStmt.Close()
	for _, s := range samples {
		if _, err := sampleStmt.ExecContext(ctx, run.RunID, s.Replicate, s.Name, s.Estimate); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}

	drawStmt, err := tx.PrepareContext(ctx, `INSERT INTO group_draws (run_id, replicate, age_group, qaly_type, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare draw insert: %w", err)
	}
	defer drawStmt.Close()
	for _, d := range draws {
		if _, err := drawStmt.ExecContext(ctx, run.RunID, d.Replicate, d.AgeGroup, d.Type, d.Value); err != nil {
			return fmt.Errorf("insert draw: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// RunIDs lists archived run ids, oldest first.
func (a *Archive) RunIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT run_id FROM runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CoefficientNames lists the coefficient names archived for one run.
func (a *Archive) CoefficientNames(ctx context.Context, runID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT DISTINCT name FROM coefficient_samples WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query sample names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CoefficientSamples returns the archived estimates for one coefficient of
// one run, ordered by replicate index.
func (a *Archive) CoefficientSamples(ctx context.Context, runID, name string) ([]models.CoefficientSample, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT replicate, estimate FROM coefficient_samples WHERE run_id = ? AND name = ? ORDER BY replicate`,
		runID, name)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.CoefficientSample
	for rows.Next() {
		s := models.CoefficientSample{Name: name}
		if err := rows.Scan(&s.Replicate, &s.Estimate); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// GroupCell identifies one archived (age group, QALY type) cell.
type GroupCell struct {
	AgeGroup string
	Type     string
}

// GroupCells lists the cells archived for one run.
func (a *Archive) GroupCells(ctx context.Context, runID string) ([]GroupCell, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT DISTINCT age_group, qaly_type FROM group_draws WHERE run_id = ? ORDER BY age_group, qaly_type`, runID)
	if err != nil {
		return nil, fmt.Errorf("query draw cells: %w", err)
	}
	defer rows.Close()

	var cells []GroupCell
	for rows.Next() {
		var c GroupCell
		if err := rows.Scan(&c.AgeGroup, &c.Type); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// GroupDraws returns the archived per-replicate group means for one
// (age group, QALY type) cell of one run, ordered by replicate index.
func (a *Archive) GroupDraws(ctx context.Context, runID, ageGroup, qalyType string) ([]models.GroupDraw, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT replicate, value FROM group_draws WHERE run_id = ? AND age_group = ? AND qaly_type = ? ORDER BY replicate`,
		runID, ageGroup, qalyType)
	if err != nil {
		return nil, fmt.Errorf("query draws: %w", err)
	}
	defer rows.Close()

	var draws []models.GroupDraw
	for rows.Next() {
		d := models.GroupDraw{AgeGroup: ageGroup, Type: qalyType}
		if err := rows.Scan(&d.Replicate, &d.Value); err != nil {
			return nil, err
		}
		draws = append(draws, d)
	}
	return draws, rows.Err()
}
