package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"testfleet/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tests (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	product_name    TEXT NOT NULL,
	product_version TEXT NOT NULL DEFAULT '',
	owner           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	report_path     TEXT NOT NULL DEFAULT '',
	definition      TEXT NOT NULL,
	submitted_at    TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT
);

CREATE TABLE IF NOT EXISTS test_steps (
	test_id     INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	environment TEXT NOT NULL,
	step_order  INTEGER NOT NULL,
	definition  TEXT NOT NULL,
	PRIMARY KEY (test_id, environment, step_order)
);

CREATE TABLE IF NOT EXISTS machines (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	network_name TEXT NOT NULL,
	definition   TEXT NOT NULL,
	is_active    INTEGER NOT NULL DEFAULT 0
);
`

// SQLite is a Repository backed by a SQLite database file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens or creates the database at path and initializes the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close implements Repository.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	v := t.UTC().Format(time.RFC3339Nano)
	return &v
}

func parseTime(v *string) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, *v)
	return t
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const testColumns = `id, definition, submitted_at, started_at, finished_at`

func scanTest(row rowScanner) (model.Test, error) {
	var (
		id                int
		definition        string
		submitted         string
		started, finished *string
		t                 model.Test
	)
	if err := row.Scan(&id, &definition, &submitted, &started, &finished); err != nil {
		return model.Test{}, err
	}
	if err := json.Unmarshal([]byte(definition), &t); err != nil {
		return model.Test{}, fmt.Errorf("malformed test %d: %w", id, err)
	}
	t.ID = id
	t.SubmittedAt = parseTime(&submitted)
	t.StartedAt = parseTime(started)
	t.FinishedAt = parseTime(finished)
	return t, nil
}

func (s *SQLite) queryTests(ctx context.Context, where string, args ...interface{}) ([]model.Test, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+testColumns+` FROM tests `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tests: %w", err)
	}
	defer rows.Close()

	var out []model.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InactiveTests implements Repository.
func (s *SQLite) InactiveTests(ctx context.Context) ([]model.Test, error) {
	return s.queryTests(ctx, `WHERE started_at IS NULL AND finished_at IS NULL`)
}

// Tests implements Repository.
func (s *SQLite) Tests(ctx context.Context) ([]model.Test, error) {
	return s.queryTests(ctx, ``)
}

// Test implements Repository.
func (s *SQLite) Test(ctx context.Context, id int) (model.Test, error) {
	t, err := scanTest(s.conn.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Test{}, NewNotFoundError("test", strconv.Itoa(id))
	}
	return t, err
}

// AddTest implements Repository. Steps are stored both with the test and
// per environment; local file mappings are not persisted.
func (s *SQLite) AddTest(ctx context.Context, t model.Test) (int, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if t.SubmittedAt.IsZero() {
		t.SubmittedAt = time.Now()
	}
	definition, err := json.Marshal(t)
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO tests (product_name, product_version, owner, description, report_path, definition, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ProductName, t.ProductVersion, t.Owner, t.Description, t.ReportPath, string(definition), *formatTime(t.SubmittedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create test: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, step := range t.Steps {
		stepDef, err := json.Marshal(step)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO test_steps (test_id, environment, step_order, definition) VALUES (?, ?, ?, ?)`,
			id, step.Environment, step.Order, string(stepDef),
		); err != nil {
			return 0, fmt.Errorf("failed to store step %d: %w", step.Order, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(id), nil
}

// StepsFor implements Repository.
func (s *SQLite) StepsFor(ctx context.Context, testID int, environment string) ([]model.TestStep, error) {
	if _, err := s.Test(ctx, testID); err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT definition FROM test_steps WHERE test_id = ? AND environment = ? ORDER BY step_order`,
		testID, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []model.TestStep
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var step model.TestStep
		if err := json.Unmarshal([]byte(definition), &step); err != nil {
			return nil, fmt.Errorf("malformed step of test %d: %w", testID, err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *SQLite) setTestTime(ctx context.Context, column string, id int, at time.Time) error {
	result, err := s.conn.ExecContext(ctx, `UPDATE tests SET `+column+` = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update test %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewNotFoundError("test", strconv.Itoa(id))
	}
	return nil
}

// StartTest implements Repository.
func (s *SQLite) StartTest(ctx context.Context, id int, at time.Time) error {
	return s.setTestTime(ctx, "started_at", id, at)
}

// StopTest implements Repository.
func (s *SQLite) StopTest(ctx context.Context, id int, at time.Time) error {
	return s.setTestTime(ctx, "finished_at", id, at)
}

const machineColumns = `definition, is_active`

func scanMachine(row rowScanner) (model.MachineDescription, error) {
	var (
		definition string
		active     bool
		md         model.MachineDescription
	)
	if err := row.Scan(&definition, &active); err != nil {
		return md, err
	}
	if err := json.Unmarshal([]byte(definition), &md); err != nil {
		return md, fmt.Errorf("malformed machine: %w", err)
	}
	md.IsActive = active
	return md, nil
}

func (s *SQLite) queryMachines(ctx context.Context, where string, args ...interface{}) ([]model.MachineDescription, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+machineColumns+` FROM machines `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	var out []model.MachineDescription
	for rows.Next() {
		md, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

// InactiveMachines implements Repository.
func (s *SQLite) InactiveMachines(ctx context.Context, env model.TestEnvironment) ([]model.MachineDescription, error) {
	all, err := s.queryMachines(ctx, `WHERE is_active = 0`)
	if err != nil {
		return nil, err
	}
	var out []model.MachineDescription
	for _, md := range all {
		if md.Satisfies(env) {
			out = append(out, md)
		}
	}
	return out, nil
}

// Machines implements Repository.
func (s *SQLite) Machines(ctx context.Context) ([]model.MachineDescription, error) {
	return s.queryMachines(ctx, ``)
}

// Machine implements Repository.
func (s *SQLite) Machine(ctx context.Context, id string) (model.MachineDescription, error) {
	md, err := scanMachine(s.conn.QueryRowContext(ctx, `SELECT `+machineColumns+` FROM machines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return md, NewNotFoundError("machine", id)
	}
	return md, err
}

// PutMachine implements Repository.
func (s *SQLite) PutMachine(ctx context.Context, md model.MachineDescription) error {
	if err := md.Validate(); err != nil {
		return fmt.Errorf("invalid machine: %w", err)
	}
	definition, err := json.Marshal(md)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO machines (id, kind, network_name, definition) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, network_name = excluded.network_name, definition = excluded.definition`,
		md.ID, string(md.Kind), md.NetworkName, string(definition),
	)
	if err != nil {
		return fmt.Errorf("failed to store machine %s: %w", md.ID, err)
	}
	return nil
}

func (s *SQLite) setActive(ctx context.Context, id string, active bool) error {
	result, err := s.conn.ExecContext(ctx, `UPDATE machines SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("failed to update machine %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewNotFoundError("machine", id)
	}
	return nil
}

// MarkMachineActive implements Repository.
func (s *SQLite) MarkMachineActive(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

// MarkMachineInactive implements Repository.
func (s *SQLite) MarkMachineInactive(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}
