package tags

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores tags in a SQLite database file.
type SQLiteBackend struct{ db *sql.DB }

// NewSQLiteBackend opens (and migrates) the database at dsn.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteBackend{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile builds a DSN with WAL journaling and a busy timeout for path.
func DSNForFile(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
}

func (s *SQLiteBackend) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS conversation_tags (
  conversation_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  tag TEXT NOT NULL,
  PRIMARY KEY (conversation_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_conversation_tags_conversation_id_position ON conversation_tags(conversation_id, position);
`)
	return err
}

func (s *SQLiteBackend) Load(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conversation_id, tag FROM conversation_tags ORDER BY conversation_id, position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		out[id] = append(out[id], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteBackend) Save(ctx context.Context, conversationID string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_tags WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	for i, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_tags (conversation_id, position, tag) VALUES (?, ?, ?)`,
			conversationID, i, tag); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
