// Package storage provides PostgreSQL access for ads, slots and wallets
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver

	"github.com/thenexusengine/adslot/internal/config"
)

// DBConfig holds PostgreSQL connection settings
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the lib/pq keyword/value connection string
func (c DBConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslmode)
}

// NewDBConnection opens a pool and pings it
func NewDBConnection(cfg DBConfig) (*sql.DB, error) {
	return Open(cfg.DSN())
}

// Open opens a pool for dsn and pings it
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// auctions read candidates on every request
	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(config.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Schema creates the tables the stores use
const Schema = `
CREATE TABLE IF NOT EXISTS ads (
	id               TEXT PRIMARY KEY,
	campaign_id      TEXT NOT NULL,
	advertiser_id    TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	landing_page_url TEXT NOT NULL DEFAULT '',
	bid_amount       NUMERIC(12,2) NOT NULL,
	max_bid_amount   NUMERIC(12,2),
	quality_score    DOUBLE PRECISION,
	status           TEXT NOT NULL DEFAULT 'DRAFT',
	is_active        BOOLEAN NOT NULL DEFAULT FALSE,
	is_approved      BOOLEAN NOT NULL DEFAULT FALSE,
	slot_types       TEXT[] NOT NULL DEFAULT '{}',
	impressions      BIGINT NOT NULL DEFAULT 0,
	clicks           BIGINT NOT NULL DEFAULT 0,
	conversions      BIGINT NOT NULL DEFAULT 0,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ad_slots (
	slot_type         TEXT PRIMARY KEY,
	capacity          INTEGER NOT NULL,
	min_bid_amount    NUMERIC(12,2) NOT NULL DEFAULT 0,
	reserve_price     NUMERIC(12,2),
	target_categories TEXT[] NOT NULL DEFAULT '{}',
	target_keywords   TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS wallets (
	advertiser_id   TEXT PRIMARY KEY,
	balance         NUMERIC(14,2) NOT NULL DEFAULT 0,
	currency        CHAR(3) NOT NULL,
	daily_limit     NUMERIC(14,2),
	monthly_limit   NUMERIC(14,2),
	spent_today     NUMERIC(14,2) NOT NULL DEFAULT 0,
	spent_month     NUMERIC(14,2) NOT NULL DEFAULT 0,
	spend_day       DATE,
	version         BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies Schema
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// pgUniqueViolation is the SQLSTATE for duplicate keys
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}
