package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/airules/internal/apperr"
	"github.com/starford/airules/internal/recipe"
)

// Row is one catalog entry.
type Row struct {
	Key       string        `json:"key"`
	Name      string        `json:"name"`
	Category  string        `json:"category"`
	Tags      []string      `json:"tags"`
	Origin    recipe.Origin `json:"origin"`
	Checksum  string        `json:"checksum"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Filter narrows ListRecipes. Zero values match everything.
type Filter struct {
	Category string
	Tag      string
	Origin   string
	Limit    int
	Offset   int
}

// CategoryCount is a category and the number of recipes in it.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Upsert inserts or replaces a recipe row and its tags within a transaction.
func (db *DB) Upsert(r Row, body []byte) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	_, err = tx.Exec(`
		INSERT INTO recipes (key, name, category, tags, origin, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			name       = excluded.name,
			category   = excluded.category,
			tags       = excluded.tags,
			origin     = excluded.origin,
			checksum   = excluded.checksum,
			body       = excluded.body,
			updated_at = excluded.updated_at
	`, r.Key, r.Name, strings.ToLower(r.Category), string(tagsJSON), string(r.Origin), r.Checksum, string(body), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("catalog: upsert recipe: %w", err)
	}

	_, _ = tx.Exec(`DELETE FROM recipe_tags WHERE key = ?`, r.Key)
	if len(tags) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO recipe_tags (key, tag) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare tag insert: %w", err)
		}
		defer stmt.Close()
		for _, tag := range tags {
			if _, err := stmt.Exec(r.Key, strings.ToLower(tag)); err != nil {
				return fmt.Errorf("catalog: insert tag: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Delete removes a recipe and its tags.
func (db *DB) Delete(key string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM recipe_tags WHERE key = ?`, key)
	_, _ = tx.Exec(`DELETE FROM recipes WHERE key = ?`, key)

	return tx.Commit()
}

// AllChecksums returns key → checksum for every catalogued recipe.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT key, checksum FROM recipes`)
	if err != nil {
		return nil, fmt.Errorf("catalog: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, cs string
		if err := rows.Scan(&k, &cs); err != nil {
			return nil, err
		}
		out[k] = cs
	}
	return out, rows.Err()
}

// Get returns one row and the stored JSON body.
func (db *DB) Get(key string) (*Row, []byte, error) {
	var (
		r        Row
		tagsJSON string
		origin   string
		body     string
	)
	err := db.conn.QueryRow(`
		SELECT key, name, category, tags, origin, checksum, body, updated_at
		FROM recipes WHERE key = ?
	`, key).Scan(&r.Key, &r.Name, &r.Category, &tagsJSON, &origin, &r.Checksum, &body, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("catalog: %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: get: %w", err)
	}
	_ = json.Unmarshal([]byte(tagsJSON), &r.Tags)
	r.Origin = recipe.Origin(origin)
	return &r, []byte(body), nil
}

// ListRecipes returns rows matching f ordered by key, plus the total number
// of matches before pagination.
func (db *DB) ListRecipes(f Filter) ([]Row, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "r.category = ?")
		args = append(args, strings.ToLower(f.Category))
	}
	if f.Origin != "" {
		where = append(where, "r.origin = ?")
		args = append(args, f.Origin)
	}
	if f.Tag != "" {
		where = append(where, "EXISTS (SELECT 1 FROM recipe_tags t WHERE t.key = r.key AND t.tag = ?)")
		args = append(args, strings.ToLower(f.Tag))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM recipes r`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("catalog: count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(f.Offset, 0)

	query := `SELECT r.key, r.name, r.category, r.tags, r.origin, r.checksum, r.updated_at FROM recipes r` +
		clause + ` ORDER BY r.key LIMIT ? OFFSET ?`
	rows, err := db.conn.Query(query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list: %w", err)
	}
	defer rows.Close()

	out := make([]Row, 0)
	for rows.Next() {
		var (
			r        Row
			tagsJSON string
			origin   string
		)
		if err := rows.Scan(&r.Key, &r.Name, &r.Category, &tagsJSON, &origin, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &r.Tags)
		r.Origin = recipe.Origin(origin)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Categories returns every non-empty category with its recipe count.
func (db *DB) Categories() ([]CategoryCount, error) {
	rows, err := db.conn.Query(`
		SELECT category, count(*) FROM recipes
		WHERE category != ''
		GROUP BY category
		ORDER BY category
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: categories: %w", err)
	}
	defer rows.Close()

	out := make([]CategoryCount, 0)
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
