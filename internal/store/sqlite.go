package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stellarlinkco/circlebot/internal/circle"
	"go.trai.ch/zerr"
	_ "modernc.org/sqlite"
)

// SQLite keeps each circle as a JSON document keyed by id.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer connection; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) ListAll(ctx context.Context) ([]circle.Circle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM circles ORDER BY name, id`)
	if err != nil {
		return nil, circle.Upstream(err, "query circles")
	}
	defer rows.Close()

	var out []circle.Circle
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, circle.Upstream(err, "scan circle row")
		}
		c, err := decodeDoc(doc)
		if err != nil {
			return nil, circle.Upstream(err, "decode circle document")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, circle.Upstream(err, "iterate circles")
	}
	return out, nil
}

func (s *SQLite) Insert(ctx context.Context, c circle.Circle) error {
	doc, err := encodeDoc(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO circles (id, name, doc, created_on) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, doc, c.CreatedOn.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return zerr.With(circle.Upstream(err, "insert circle"), "circle_id", c.ID)
	}
	return nil
}

func (s *SQLite) Update(ctx context.Context, id string, patch circle.Patch) (circle.Circle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return circle.Circle{}, circle.Upstream(err, "begin update")
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM circles WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return circle.Circle{}, circle.Upstream(zerr.With(zerr.Wrap(circle.ErrNotFound, "update circle"), "circle_id", id), "update circle")
	}
	if err != nil {
		return circle.Circle{}, circle.Upstream(err, "load circle")
	}

	current, err := decodeDoc(doc)
	if err != nil {
		return circle.Circle{}, circle.Upstream(err, "decode circle document")
	}
	updated := patch.Apply(current)
	newDoc, err := encodeDoc(updated)
	if err != nil {
		return circle.Circle{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE circles SET name = ?, doc = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE id = ?`,
		updated.Name, newDoc, id,
	); err != nil {
		return circle.Circle{}, circle.Upstream(err, "update circle")
	}
	if err := tx.Commit(); err != nil {
		return circle.Circle{}, circle.Upstream(err, "commit update")
	}
	return updated, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM circles WHERE id = ?`, id)
	if err != nil {
		return circle.Upstream(err, "delete circle")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return circle.Upstream(err, "delete circle")
	}
	if n == 0 {
		return circle.Upstream(zerr.With(zerr.Wrap(circle.ErrNotFound, "delete circle"), "circle_id", id), "delete circle")
	}
	return nil
}

func encodeDoc(c circle.Circle) (string, error) {
	data, err := json.Marshal(c.Clone())
	if err != nil {
		return "", zerr.Wrap(err, "encode circle document")
	}
	return string(data), nil
}

func decodeDoc(doc string) (circle.Circle, error) {
	var c circle.Circle
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return circle.Circle{}, err
	}
	return c, nil
}
