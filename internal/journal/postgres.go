package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createFills = `
CREATE TABLE IF NOT EXISTS paper_fills (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	qty         DOUBLE PRECISION NOT NULL,
	fee         DOUBLE PRECISION NOT NULL,
	cash_after  DOUBLE PRECISION NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	entry_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	return_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
	pnl         DOUBLE PRECISION NOT NULL DEFAULT 0,
	win         BOOLEAN NOT NULL DEFAULT FALSE,
	ts          TIMESTAMPTZ NOT NULL
)`

const insertFill = `
INSERT INTO paper_fills (
	id, symbol, side, price, qty, fee, cash_after,
	reason, entry_price, return_pct, pnl, win, ts
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO NOTHING`

// Postgres stores fills in the paper_fills table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and creates the table if needed.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createFills); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Record(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, insertFill,
		e.ID, e.Symbol, e.Side.String(), e.Price, e.Qty, e.Fee, e.CashAfter,
		e.Reason, e.EntryPrice, e.ReturnPct, e.PnL, e.Win, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert fill %s: %w", e.ID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
