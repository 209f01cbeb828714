package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Status describes where a database stands relative to the embedded migrations.
type Status struct {
	Current int      `json:"current"`
	Latest  int      `json:"latest"`
	Pending []string `json:"pending"`
}

func loadMigrations() ([]Migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var migrations []Migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, Migration{Version: v, Name: f.Name(), UpSQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func currentVersion(q queryRower) (int, error) {
	var v int
	err := q.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

// Migrate applies pending embedded migrations in a single transaction.
func Migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	version, err := currentVersion(tx)
	if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if version == 0 {
		var rows int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&rows); err != nil {
			return fmt.Errorf("count schema_version: %w", err)
		}
		if rows == 0 {
			if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
				return fmt.Errorf("init schema_version: %w", err)
			}
		}
	}
	for _, m := range migrations {
		if m.Version <= version {
			continue
		}
		if _, err := tx.Exec(m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.Version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		version = m.Version
	}
	return tx.Commit()
}

// Inspect reports the applied version without changing the database.
func Inspect(db *sql.DB) (Status, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return Status{}, err
	}
	var st Status
	var exists int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists); err != nil {
		return Status{}, err
	}
	if exists > 0 {
		if st.Current, err = currentVersion(db); err != nil {
			return Status{}, err
		}
	}
	st.Pending = []string{}
	for _, m := range migrations {
		st.Latest = m.Version
		if m.Version > st.Current {
			st.Pending = append(st.Pending, m.Name)
		}
	}
	return st, nil
}
