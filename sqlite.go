package unitconv

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps units and conversion facts in SQLite. Generic rows
// have product_id 0. It implements Provider and Mutator.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// :memory: databases exist per connection.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS units (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			form_id INTEGER NOT NULL DEFAULT 0,
			product_id INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS unit_conversions (
			id TEXT PRIMARY KEY,
			from_unit_id INTEGER NOT NULL,
			to_unit_id INTEGER NOT NULL,
			factor REAL NOT NULL,
			product_id INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS units_product_id ON units (product_id);`,
		`CREATE INDEX IF NOT EXISTS unit_conversions_product_id ON unit_conversions (product_id);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SelectUnits(ctx context.Context, filter UnitFilter) ([]Unit, error) {
	var rows *sql.Rows
	var err error
	switch {
	case filter.UnitID != 0:
		rows, err = s.db.QueryContext(ctx, `SELECT id, name, form_id, product_id FROM units WHERE id = ?`, filter.UnitID)
	default:
		rows, err = s.db.QueryContext(ctx, `SELECT id, name, form_id, product_id FROM units WHERE product_id = ? ORDER BY id`, filter.ProductID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.FormID, &u.ProductID); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *SQLiteStore) SelectDirectConversions(ctx context.Context, productID int) ([]ConversionFact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_unit_id, to_unit_id, factor, product_id
		FROM unit_conversions WHERE product_id = ? ORDER BY rowid`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []ConversionFact
	for rows.Next() {
		var f ConversionFact
		if err := rows.Scan(&f.ID, &f.FromUnitID, &f.ToUnitID, &f.Factor, &f.ProductID); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func (s *SQLiteStore) AddUnits(ctx context.Context, units ...Unit) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, u := range units {
			_, err := tx.ExecContext(ctx, `INSERT INTO units (id, name, form_id, product_id) VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, form_id = excluded.form_id, product_id = excluded.product_id`,
				u.ID, u.Name, u.FormID, u.ProductID)
			if err != nil {
				return fmt.Errorf("insert unit %d: %w", u.ID, err)
			}
		}
		return nil
	})
}

// RemoveUnits deletes the units and every conversion referencing them.
func (s *SQLiteStore) RemoveUnits(ctx context.Context, unitIDs ...int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range unitIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM unit_conversions WHERE from_unit_id = ? OR to_unit_id = ?`, id, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddConversionFacts inserts facts, replacing any fact of the same owner for
// the same pair of units. Facts without an ID get a new uuid.
func (s *SQLiteStore) AddConversionFacts(ctx context.Context, facts ...ConversionFact) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, f := range facts {
			if f.ID == "" {
				f.ID = uuid.New().String()
			}
			if err := deleteFact(ctx, tx, ConversionFact{FromUnitID: f.FromUnitID, ToUnitID: f.ToUnitID, ProductID: f.ProductID}); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO unit_conversions (id, from_unit_id, to_unit_id, factor, product_id) VALUES (?, ?, ?, ?, ?)`,
				f.ID, f.FromUnitID, f.ToUnitID, f.Factor, f.ProductID)
			if err != nil {
				return fmt.Errorf("insert conversion %d -> %d: %w", f.FromUnitID, f.ToUnitID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) RemoveConversionFacts(ctx context.Context, facts ...ConversionFact) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, f := range facts {
			if err := deleteFact(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func deleteFact(ctx context.Context, tx *sql.Tx, f ConversionFact) error {
	if f.ID != "" {
		_, err := tx.ExecContext(ctx, `DELETE FROM unit_conversions WHERE id = ?`, f.ID)
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM unit_conversions WHERE product_id = ?
		AND ((from_unit_id = ? AND to_unit_id = ?) OR (from_unit_id = ? AND to_unit_id = ?))`,
		f.ProductID, f.FromUnitID, f.ToUnitID, f.ToUnitID, f.FromUnitID)
	return err
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
