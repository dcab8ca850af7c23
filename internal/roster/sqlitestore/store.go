// Package sqlitestore persists roster snapshots in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"ex-fronter/internal/roster"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "data.db"

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id        TEXT    PRIMARY KEY,
	proxy_enabled  INTEGER NOT NULL DEFAULT 1,
	current_name   TEXT,
	current_avatar TEXT,
	current_color  TEXT
);

CREATE TABLE IF NOT EXISTS members (
	user_id    TEXT    NOT NULL REFERENCES profiles(user_id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	name       TEXT    NOT NULL CHECK(length(name) > 0),
	avatar_url TEXT,
	color      TEXT    NOT NULL,
	PRIMARY KEY (user_id, position)
);
`

// Store keeps one row per profile and one row per member. Save replaces the
// whole snapshot inside a single transaction.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open db: %w", err)
	}
	// SQLite allows one writer; keep a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []struct {
		statement string
		label     string
	}{
		{statement: "PRAGMA journal_mode=WAL", label: "set WAL"},
		{statement: "PRAGMA foreign_keys=ON", label: "enable FK"},
		{statement: "PRAGMA busy_timeout=5000", label: "set busy_timeout"},
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma.statement); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma.label, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("init schema_migrations: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= schemaVersion {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("update schema version: %w", err)
	}

	return nil
}

// Load reads every profile. An empty database is an empty snapshot.
func (s *Store) Load(ctx context.Context) (roster.Snapshot, error) {
	snapshot := roster.Snapshot{}

	profileRows, err := s.db.QueryContext(ctx,
		"SELECT user_id, proxy_enabled, current_name, current_avatar, current_color FROM profiles")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load profiles: %w", err)
	}
	defer profileRows.Close()

	for profileRows.Next() {
		var (
			userID        string
			proxyEnabled  bool
			currentName   sql.NullString
			currentAvatar sql.NullString
			currentColor  sql.NullString
		)
		if err := profileRows.Scan(&userID, &proxyEnabled, &currentName, &currentAvatar, &currentColor); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan profile: %w", err)
		}

		record := roster.ProfileRecord{
			Members:      []roster.MemberRecord{},
			ProxyEnabled: proxyEnabled,
		}
		if currentName.Valid {
			record.CurrentMember = &roster.MemberRecord{
				Name:      currentName.String,
				AvatarURL: nullableString(currentAvatar),
				Color:     currentColor.String,
			}
		}
		snapshot[userID] = record
	}
	if err := profileRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate profiles: %w", err)
	}
	if err := profileRows.Close(); err != nil {
		return nil, fmt.Errorf("sqlitestore: close profiles: %w", err)
	}

	memberRows, err := s.db.QueryContext(ctx,
		"SELECT user_id, name, avatar_url, color FROM members ORDER BY user_id, position")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: load members: %w", err)
	}
	defer memberRows.Close()

	for memberRows.Next() {
		var (
			userID string
			member roster.MemberRecord
			avatar sql.NullString
		)
		if err := memberRows.Scan(&userID, &member.Name, &avatar, &member.Color); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan member: %w", err)
		}
		member.AvatarURL = nullableString(avatar)

		record := snapshot[userID]
		record.Members = append(record.Members, member)
		snapshot[userID] = record
	}
	if err := memberRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate members: %w", err)
	}

	return snapshot, nil
}

// Save replaces all stored rows with snapshot. On failure the previous
// contents remain.
func (s *Store) Save(ctx context.Context, snapshot roster.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM members"); err != nil {
		return fmt.Errorf("sqlitestore: clear members: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM profiles"); err != nil {
		return fmt.Errorf("sqlitestore: clear profiles: %w", err)
	}

	insertProfile, err := tx.PrepareContext(ctx,
		"INSERT INTO profiles (user_id, proxy_enabled, current_name, current_avatar, current_color) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare profile insert: %w", err)
	}
	defer insertProfile.Close()

	insertMember, err := tx.PrepareContext(ctx,
		"INSERT INTO members (user_id, position, name, avatar_url, color) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlitestore: prepare member insert: %w", err)
	}
	defer insertMember.Close()

	for _, userID := range snapshot.UserIDs() {
		record := snapshot[userID]

		var currentName, currentAvatar, currentColor any
		if record.CurrentMember != nil {
			currentName = record.CurrentMember.Name
			currentAvatar = nullValue(record.CurrentMember.AvatarURL)
			currentColor = record.CurrentMember.Color
		}
		if _, err = insertProfile.ExecContext(ctx, userID, record.ProxyEnabled, currentName, currentAvatar, currentColor); err != nil {
			return fmt.Errorf("sqlitestore: insert profile %s: %w", userID, err)
		}

		for position, member := range record.Members {
			if _, err = insertMember.ExecContext(ctx, userID, position, member.Name, nullValue(member.AvatarURL), member.Color); err != nil {
				return fmt.Errorf("sqlitestore: insert member %s/%d: %w", userID, position, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}

	return nil
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	copied := value.String

	return &copied
}

func nullValue(value *string) any {
	if value == nil {
		return nil
	}

	return *value
}

var _ roster.Persister = (*Store)(nil)
