package store

import (
	"context"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	email          TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	wallet_balance NUMERIC(12,2) NOT NULL DEFAULT 0,
	membership     TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	total_spent    NUMERIC(12,2) NOT NULL DEFAULT 0,
	recent_orders  TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	customer_id       TEXT NOT NULL REFERENCES customers(id),
	status            TEXT NOT NULL,
	expected_delivery TEXT NOT NULL DEFAULT '',
	items             JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS payments (
	id          TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	order_id    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	amount      NUMERIC(12,2) NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS payments_customer_status_idx ON payments (customer_id, status);

CREATE TABLE IF NOT EXISTS cases (
	id            TEXT PRIMARY KEY,
	customer_id   TEXT NOT NULL,
	issue_details TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id                TEXT PRIMARY KEY,
	customer_id       TEXT NOT NULL,
	items             JSONB NOT NULL DEFAULT '[]',
	delivery_date     DATE,
	delivery_day      TEXT,
	subscription_type TEXT NOT NULL,
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS subscriptions_customer_idx ON subscriptions (customer_id, created_at);

CREATE SEQUENCE IF NOT EXISTS subscription_seq;
`

// Migrate creates the schema, normalizes legacy weekday subscriptions and
// aligns subscription_seq with the rows already present. It runs once at startup.
func (s *Store) Migrate(ctx context.Context, referenceMonth time.Time) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	if _, err := s.MigrateLegacySubscriptions(ctx, referenceMonth); err != nil {
		return err
	}

	// the sequence only moves forward, to the highest stored SUBnnn
	_, err := s.db.ExecContext(ctx, `
		WITH m AS (
			SELECT COALESCE(MAX(substring(id from 4)::bigint), 0) AS max_id
			FROM subscriptions WHERE id ~ '^SUB[0-9]+$'
		)
		SELECT setval('subscription_seq', m.max_id)
		FROM m, subscription_seq seq
		WHERE m.max_id > 0
			AND (seq.last_value < m.max_id OR (NOT seq.is_called AND seq.last_value = m.max_id))`)
	if err != nil {
		return fmt.Errorf("failed to align subscription sequence: %w", err)
	}
	return nil
}

// MigrateLegacySubscriptions rewrites rows carrying delivery_day into the
// canonical delivery_date shape and clears delivery_day
func (s *Store) MigrateLegacySubscriptions(ctx context.Context, referenceMonth time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var rows []struct {
		ID          string `db:"id"`
		DeliveryDay string `db:"delivery_day"`
	}
	err = tx.SelectContext(ctx, &rows, `
		SELECT id, delivery_day FROM subscriptions
		WHERE delivery_day IS NOT NULL AND delivery_date IS NULL
		FOR UPDATE`)
	if err != nil {
		return 0, fmt.Errorf("failed to select legacy subscriptions: %w", err)
	}

	for _, row := range rows {
		date, err := NormalizeDeliveryDay(row.DeliveryDay, referenceMonth)
		if err != nil {
			return 0, fmt.Errorf("subscription %s: %w", row.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE subscriptions SET delivery_date = $1, delivery_day = NULL WHERE id = $2",
			date, row.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to normalize subscription %s: %w", row.ID, err)
		}
	}

	return len(rows), tx.Commit()
}
