// Package history persists reconciliation cycles and the installs and
// removals they detected in the local SQLite database.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skilldeck/pkg/db"
	"github.com/jingkaihe/skilldeck/pkg/db/migrations"
	"github.com/jingkaihe/skilldeck/pkg/reconcile"
	"github.com/jingkaihe/skilldeck/pkg/skills"
)

// Event kinds.
const (
	KindInstalled = "installed"
	KindRemoved   = "removed"
)

// Event is one detected install or removal.
type Event struct {
	ID         int64     `db:"id" json:"id" yaml:"id"`
	CycleID    string    `db:"cycle_id" json:"cycleId" yaml:"cycleId"`
	Kind       string    `db:"kind" json:"kind" yaml:"kind"`
	FolderName string    `db:"folder_name" json:"folderName" yaml:"folderName"`
	Name       string    `db:"name" json:"name" yaml:"name"`
	Source     string    `db:"source" json:"source,omitempty" yaml:"source,omitempty"`
	Scope      string    `db:"scope" json:"scope" yaml:"scope"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt" yaml:"createdAt"`
}

// Query filters Events.
type Query struct {
	Kind  string
	Skill string
	Since time.Time
	Limit int
}

// Store reads and writes history.
type Store struct {
	db *sqlx.DB
}

var _ reconcile.Recorder = (*Store)(nil)

// Open opens the database at path and brings its schema up to date.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := db.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := db.NewMigrationRunner(conn).Run(ctx, migrations.All()); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to migrate history database")
	}
	return &Store{db: conn}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a cycle and its changes. Baseline cycles store only the
// cycle row since every skill appears new to them.
func (s *Store) Record(ctx context.Context, report reconcile.Report) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	added, removed := len(report.Added), len(report.Removed)
	if report.Baseline {
		added, removed = 0, 0
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reconcile_cycles (id, baseline, added, removed, total, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		report.CycleID, report.Baseline, added, removed, report.Total, report.At.UTC())
	if err != nil {
		return errors.Wrap(err, "failed to record reconcile cycle")
	}

	if !report.Baseline {
		if err := insertEvents(ctx, tx, report, KindInstalled, report.Added); err != nil {
			return err
		}
		if err := insertEvents(ctx, tx, report, KindRemoved, report.Removed); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit history")
}

func insertEvents(ctx context.Context, tx *sqlx.Tx, report reconcile.Report, kind string, list []skills.InstalledSkill) error {
	for _, sk := range list {
		ev := Event{
			CycleID:    report.CycleID,
			Kind:       kind,
			FolderName: sk.FolderName,
			Name:       sk.Name,
			Source:     sk.Source,
			Scope:      string(sk.Scope),
			CreatedAt:  report.At.UTC(),
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO skill_events (cycle_id, kind, folder_name, name, source, scope, created_at)
			VALUES (:cycle_id, :kind, :folder_name, :name, :source, :scope, :created_at)
		`, ev)
		if err != nil {
			return errors.Wrapf(err, "failed to record %s event for %s", kind, sk.FolderName)
		}
	}
	return nil
}

// Events returns matching events, newest first.
func (s *Store) Events(ctx context.Context, q Query) ([]Event, error) {
	var conditions []string
	args := map[string]any{}

	if q.Kind != "" {
		conditions = append(conditions, "kind = :kind")
		args["kind"] = q.Kind
	}
	if q.Skill != "" {
		conditions = append(conditions, "(folder_name = :skill OR name = :skill)")
		args["skill"] = q.Skill
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "created_at >= :since")
		args["since"] = q.Since.UTC()
	}

	query := `SELECT id, cycle_id, kind, folder_name, name, source, scope, created_at FROM skill_events`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT :limit"
		args["limit"] = q.Limit
	}

	named, namedArgs, err := sqlx.Named(query, args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build history query")
	}

	events := []Event{}
	if err := s.db.SelectContext(ctx, &events, s.db.Rebind(named), namedArgs...); err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	return events, nil
}

// CycleCount returns how many cycles have been recorded.
func (s *Store) CycleCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM reconcile_cycles"); err != nil {
		return 0, errors.Wrap(err, "failed to count cycles")
	}
	return n, nil
}

// Prune deletes cycles older than before, with their events.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM reconcile_cycles WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune history")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count pruned cycles")
	}
	return n, nil
}

// Reset wipes the history by rolling every migration back and reapplying
// the schema.
func (s *Store) Reset(ctx context.Context) error {
	runner := db.NewMigrationRunner(s.db)
	all := migrations.All()
	for {
		versions, err := runner.AppliedVersions(ctx)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			break
		}
		if err := runner.Rollback(ctx, all); err != nil {
			return errors.Wrap(err, "failed to reset history")
		}
	}
	return errors.Wrap(runner.Run(ctx, all), "failed to recreate history schema")
}
