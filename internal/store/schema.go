package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/sqlstream/internal/scripts"
)

// CreateSchema creates the namespace and every table of the current layout.
//
// Every statement is guarded, so the call is safe against an existing
// current schema and brings a legacy (v1) layout up to date in place.
func (s *Store) CreateSchema(ctx context.Context) error {
	const op = "create schema"
	if err := s.guardDisposed(op); err != nil {
		return err
	}
	if err := s.runSchemaScript(ctx, scripts.CreateSchema); err != nil {
		return &Error{Code: CodeSchemaCreationFailed, Op: op, BackendCode: driverCode(err), Err: err}
	}
	s.schemaOK.Store(false)
	s.log.Info("schema created", "version", CurrentSchemaVersion)
	return nil
}

// createSchemaV1 creates the legacy layout that predates the version marker.
// Used by tests exercising CheckSchema and upgrades.
func (s *Store) createSchemaV1(ctx context.Context) error {
	const op = "create schema v1"
	if err := s.guardDisposed(op); err != nil {
		return err
	}
	if err := s.runSchemaScript(ctx, scripts.CreateSchemaV1); err != nil {
		return &Error{Code: CodeSchemaCreationFailed, Op: op, BackendCode: driverCode(err), Err: err}
	}
	s.schemaOK.Store(false)
	return nil
}

func (s *Store) runSchemaScript(ctx context.Context, name scripts.Name) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if !s.scripts.IsEmpty(scripts.EnsureNamespace) {
		if _, err := s.db.ExecContext(ctx, s.scripts.Get(scripts.EnsureNamespace)); err != nil {
			return fmt.Errorf("ensure namespace %q: %w", s.scripts.Schema(), err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.scripts.Get(name)); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	return nil
}

// CheckSchema reports the durable schema version next to CurrentSchemaVersion.
// A store without a version marker reports FirstSchemaVersion. A mismatch is
// reported, never returned as an error.
func (s *Store) CheckSchema(ctx context.Context) (CheckSchemaResult, error) {
	const op = "check schema"
	if err := s.guardDisposed(op); err != nil {
		return CheckSchemaResult{}, err
	}
	res, err := s.checkSchema(ctx)
	if err != nil {
		return CheckSchemaResult{}, backendError(op, err)
	}
	return res, nil
}

func (s *Store) checkSchema(ctx context.Context) (CheckSchemaResult, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res := CheckSchemaResult{Current: FirstSchemaVersion, Expected: CurrentSchemaVersion}

	var tables int
	if err := s.db.QueryRowContext(ctx, s.scripts.Get(scripts.SchemaInfoExists)).Scan(&tables); err != nil {
		return res, fmt.Errorf("look up schema marker: %w", err)
	}
	if tables == 0 {
		return res, nil
	}

	rows, err := s.db.QueryContext(ctx, s.scripts.Get(scripts.GetSchemaVersion))
	if err != nil {
		return res, fmt.Errorf("read schema marker: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return res, fmt.Errorf("scan schema marker: %w", err)
		}
		if key != "version" {
			continue
		}
		v, err := strconv.Atoi(value)
		if err != nil {
			return res, fmt.Errorf("parse schema version %q: %w", value, err)
		}
		res.Current = v
		break
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate schema marker: %w", err)
	}

	return res, nil
}

// DropAll irreversibly removes every table owned by this store.
// Intended for tests and teardown.
func (s *Store) DropAll(ctx context.Context) error {
	const op = "drop all"
	if err := s.guardDisposed(op); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.scripts.Get(scripts.DropAll)); err != nil {
		return &Error{Code: CodeSchemaDropFailed, Op: op, BackendCode: driverCode(err), Err: err}
	}
	s.schemaOK.Store(false)
	s.log.Info("schema dropped")
	return nil
}

// GetSchemaCreationScript returns the DDL CreateSchema executes, rendered
// for this store's namespace.
func (s *Store) GetSchemaCreationScript() string {
	return s.scripts.Get(scripts.CreateSchema)
}
