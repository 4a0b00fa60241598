package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the same tables the gorm backend migrates, so either
// backend can serve a database the other created.
var schemaStatements = []string{
	`create table if not exists mcps (
		id bigserial primary key,
		name text not null,
		balance numeric(20,8) not null default 0,
		created_at timestamptz not null
	)`,
	`create table if not exists partners (
		id bigserial primary key,
		mcp_id bigint not null,
		name text not null,
		phone text not null default '',
		active boolean not null default true,
		balance numeric(20,8) not null default 0,
		created_at timestamptz not null
	)`,
	`create index if not exists idx_partners_mcp on partners(mcp_id)`,
	`create table if not exists orders (
		id bigserial primary key,
		mcp_id bigint not null,
		partner_id bigint,
		amount numeric(20,8) not null,
		description text not null default '',
		status text not null,
		created_at timestamptz not null,
		updated_at timestamptz not null
	)`,
	`create index if not exists idx_orders_mcp_status on orders(mcp_id, status)`,
	`create table if not exists transactions (
		id bigserial primary key,
		mcp_id bigint not null,
		kind text not null,
		amount numeric(20,8) not null,
		description text not null default '',
		source_kind text,
		source_id bigint,
		target_kind text,
		target_id bigint,
		order_id bigint,
		status text not null,
		metadata jsonb not null,
		created_at timestamptz not null
	)`,
	`create index if not exists idx_transactions_mcp_created on transactions(mcp_id, created_at)`,
	`create table if not exists notifications (
		id bigserial primary key,
		mcp_id bigint not null,
		kind text not null,
		message text not null,
		is_read boolean not null default false,
		created_at timestamptz not null
	)`,
	`create index if not exists idx_notifications_mcp_read on notifications(mcp_id, is_read)`,
}

// Open connects a pool to dsn, verifies it and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, statement := range schemaStatements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
