package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"workbench/pkg/db"
	"workbench/pkg/settings/tree"
)

// SQLite stores one row per namespaced leaf key, so deltas are plain inserts
// and removals must be explicit.
type SQLite struct {
	*Base
	db *db.DB
}

// NewSQLite creates a local storage on the settings table of d.
func NewSQLite(name string, d *db.DB) *SQLite {
	return &SQLite{Base: NewBase(name, TypeLocal, true), db: d}
}

func (s *SQLite) Init(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) GetAll(ctx context.Context) (Payload, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT namespace, key, value FROM settings ORDER BY namespace, key")
	if err != nil {
		return Payload{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	flat := make(map[string]map[string]any)
	for rows.Next() {
		var ns, key string
		var raw sql.NullString
		if err := rows.Scan(&ns, &key, &raw); err != nil {
			return Payload{}, err
		}
		v, err := decodeValue(raw)
		if err != nil {
			return Payload{}, fmt.Errorf("decode %s.%s: %w", ns, key, err)
		}
		if flat[ns] == nil {
			flat[ns] = make(map[string]any)
		}
		flat[ns][key] = v
	}
	if err := rows.Err(); err != nil {
		return Payload{}, err
	}

	prefs := make(map[string]any, len(flat))
	for ns, m := range flat {
		prefs[ns] = tree.Unflatten(m)
	}
	return Payload{Preference: prefs}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (any, bool, error) {
	p, err := s.GetAll(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := p.Preference[key]
	return v, ok, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value any, replace bool) error {
	m, ok := tree.Normalize(value).(map[string]any)
	if !ok {
		return ErrInvalidValue
	}
	var deletes []tree.Path
	if replace {
		deletes = []tree.Path{{key}}
	}
	return s.SetSettings(ctx, map[string]any{key: m}, deletes)
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE namespace = ?", key)
	return err
}

func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM settings")
	return err
}

func (s *SQLite) SetSettings(ctx context.Context, prefs map[string]any, deletes []tree.Path) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range deletes {
		ns, rest, ok := splitDelete(p)
		if !ok {
			continue
		}
		if len(rest) == 0 {
			if _, err := tx.ExecContext(ctx, "DELETE FROM settings WHERE namespace = ?", ns); err != nil {
				return fmt.Errorf("delete namespace %s: %w", ns, err)
			}
			continue
		}
		key := rest.String()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM settings WHERE namespace = ? AND (key = ? OR key LIKE ? ESCAPE '\')`,
			ns, key, escapeLike(key)+".%"); err != nil {
			return fmt.Errorf("delete %s.%s: %w", ns, key, err)
		}
	}

	now := time.Now().UTC()
	for ns, v := range prefs {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for key, val := range tree.Flatten(m) {
			data, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("encode %s.%s: %w", ns, key, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO settings (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)`,
				ns, key, string(data), now); err != nil {
				return fmt.Errorf("write %s.%s: %w", ns, key, err)
			}
		}
	}

	return tx.Commit()
}

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func decodeValue(raw sql.NullString) (any, error) {
	if !raw.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, errors.Join(ErrInvalidValue, err)
	}
	return v, nil
}
