package storage

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresInventory applies sold events to the backend inventory table.
type PostgresInventory struct {
	db *sql.DB
}

func NewPostgresInventory(dsn string) (*PostgresInventory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresInventory{db: db}, nil
}

func NewPostgresInventoryFromDB(db *sql.DB) *PostgresInventory { return &PostgresInventory{db: db} }

// MarkOutOfStock flips in_stock off for every listed vehicle and returns how
// many rows changed. Already sold rows are left alone.
func (p *PostgresInventory) MarkOutOfStock(ctx context.Context, ids []int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ids64 := make([]int64, len(ids))
	for i, id := range ids {
		ids64[i] = int64(id)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE vehicle_inventory SET in_stock = false, updated_at = now() WHERE id = ANY($1) AND in_stock`, pq.Array(ids64))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresInventory) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresInventory) Close() error { return p.db.Close() }

// Migrate runs a schema script, such as migrations/001_create_vehicle_inventory.sql.
func (p *PostgresInventory) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}
