package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// ledger names a bookkeeping table listing applied files.
type ledger string

const (
	schemaLedger ledger = "schema_migrations"
	seedLedger   ledger = "schema_seeds"
)

// Manager runs the gatehouse schema and seed files against PostgreSQL. Both
// sources are fs.FS so embedded files and a directory on disk work alike.
type Manager struct {
	db     *sql.DB
	schema fs.FS
	seeds  fs.FS
}

// NewManager constructs a Manager. Either source may be nil.
func NewManager(db *sql.DB, schema, seeds fs.FS) *Manager {
	return &Manager{db: db, schema: schema, seeds: seeds}
}

// Up applies pending *.up.sql files in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, schemaLedger, m.schema, ".up.sql")
}

// Seed applies pending seed files; each runs once.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, seedLedger, m.seeds, ".sql")
}

// Status lists applied schema files, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureLedgers(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, schemaLedger)
}

// Down reverts the newest applied schema file with its *.down.sql twin.
func (m *Manager) Down(ctx context.Context) error {
	done, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(done) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := done[len(done)-1]
	downs, err := sqlFiles(m.schema, ".down.sql")
	if err != nil {
		return err
	}
	down, ok := downs[strings.TrimSuffix(last, ".up.sql")+".down.sql"]
	if !ok {
		return fmt.Errorf("migrate: %s has no down file", last)
	}
	if err := m.run(ctx, m.schema, down); err != nil {
		return fmt.Errorf("roll back %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, schemaLedger), last)
	return err
}

func (m *Manager) applyPending(ctx context.Context, l ledger, src fs.FS, suffix string) error {
	if err := m.ensureLedgers(ctx); err != nil {
		return err
	}
	done, err := m.applied(ctx, l)
	if err != nil {
		return err
	}
	files, err := sqlFiles(src, suffix)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		if !slices.Contains(done, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if err := m.run(ctx, src, files[name]); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := m.db.ExecContext(ctx, fmt.Sprintf(`insert into %s (name) values ($1)`, l), name); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) ensureLedgers(ctx context.Context) error {
	for _, l := range []ledger{schemaLedger, seedLedger} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, l)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", l, err)
		}
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, l ledger) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, l))
	if err != nil {
		return nil, err
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

// run executes one file inside a transaction.
func (m *Manager) run(ctx context.Context, src fs.FS, file string) error {
	body, err := fs.ReadFile(src, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// sqlFiles maps base names ending in suffix to their paths in src.
func sqlFiles(src fs.FS, suffix string) (map[string]string, error) {
	files := make(map[string]string)
	if src == nil {
		return files, nil
	}
	err := fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, suffix) {
			files[path.Base(p)] = p
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	return files, err
}

// splitStatements cuts src at semicolons that sit outside quoted literals
// and $$ bodies.
func splitStatements(src string) []string {
	var (
		out            []string
		start          int
		quoted, dollar bool
	)
	for i := 0; i < len(src); i++ {
		switch c := src[i]; {
		case c == '$' && !quoted && strings.HasPrefix(src[i:], "$$"):
			dollar = !dollar
			i++
		case c == '\'' && !dollar:
			quoted = !quoted
		case c == ';' && !quoted && !dollar:
			if stmt := strings.TrimSpace(src[start : i+1]); stmt != ";" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(src[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
