// Package banlist хранит заблокированные адреса. SQLite для выделенного
// сервера, память для тестов и ботов.
package banlist

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS bans (
	addr       TEXT PRIMARY KEY,
	reason     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);`

// Store - список банов в SQLite.
type Store struct {
	db *sql.DB
}

// Open открывает (или создает) базу по пути dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ban db: %w", err)
	}
	// Один писатель: sqlite3 не любит параллельную запись
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ban db pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ban db schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Contains(addr string) (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT count(*) FROM bans WHERE addr=?", addr).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Add банит адрес. Повторный бан обновляет причину.
func (s *Store) Add(addr, reason string) error {
	_, err := s.db.Exec(`INSERT INTO bans (addr, reason, created_at) VALUES (?, ?, ?)
		ON CONFLICT(addr) DO UPDATE SET reason=excluded.reason`, addr, reason, time.Now().Unix())
	return err
}

func (s *Store) Remove(addr string) error {
	res, err := s.db.Exec("DELETE FROM bans WHERE addr=?", addr)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s is not banned", addr)
	}
	return nil
}

// List - адреса с причинами в порядке бана.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query("SELECT addr, reason FROM bans ORDER BY created_at, addr")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr, reason string
		if err := rows.Scan(&addr, &reason); err != nil {
			return nil, err
		}
		out = append(out, format(addr, reason))
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func format(addr, reason string) string {
	if reason == "" {
		return addr
	}
	return addr + " (" + reason + ")"
}
