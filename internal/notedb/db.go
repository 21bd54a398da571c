// Package notedb provides the SQLite-backed note metadata store used by the
// sqlite observer: frontmatter rows for every note, queryable from ```sql
// fences inside notes.
package notedb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/ansuz/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	path        TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	tags        TEXT NOT NULL DEFAULT '',
	frontmatter TEXT NOT NULL DEFAULT '{}',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notes_title ON notes(title);
`

// DB wraps a sql.DB with note-store operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("notedb: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notedb: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notedb: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// UpsertNote inserts or replaces the metadata row for a note.
func (db *DB) UpsertNote(note *models.Note) error {
	fm := make(map[string]string)
	if note.Frontmatter != nil {
		for pair := note.Frontmatter.Oldest(); pair != nil; pair = pair.Next() {
			fm[pair.Key] = pair.Value
		}
	}
	fmJSON, _ := json.Marshal(fm)

	_, err := db.conn.Exec(`
		INSERT INTO notes (path, title, tags, frontmatter, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			title       = excluded.title,
			tags        = excluded.tags,
			frontmatter = excluded.frontmatter,
			updated_at  = excluded.updated_at
	`, note.Path, note.Title(), strings.Join(note.Tags(), ", "), string(fmJSON))
	if err != nil {
		return fmt.Errorf("notedb: upsert note: %w", err)
	}
	return nil
}

// DeleteNote removes the metadata row for a path.
func (db *DB) DeleteNote(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("notedb: delete note: %w", err)
	}
	return nil
}

// Query executes a read-only SELECT and returns column names plus stringified
// rows. Anything that is not a SELECT (or WITH ... SELECT) is rejected; note
// fences must not be able to mutate the database.
func (db *DB) Query(q string) ([]string, [][]string, error) {
	upper := strings.ToUpper(strings.TrimSpace(q))
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, nil, fmt.Errorf("notedb: only SELECT queries are allowed")
	}

	rows, err := db.conn.Query(q)
	if err != nil {
		return nil, nil, fmt.Errorf("notedb: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("notedb: columns: %w", err)
	}

	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		for i := range raw {
			raw[i] = new(sql.NullString)
		}
		if err := rows.Scan(raw...); err != nil {
			return nil, nil, fmt.Errorf("notedb: scan: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			ns := v.(*sql.NullString)
			if ns.Valid {
				row[i] = ns.String
			}
		}
		out = append(out, row)
	}
	return cols, out, rows.Err()
}
