package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// schema is applied idempotently at startup. The unique constraints are
// load-bearing: the ETL relies on ON CONFLICT against them.
var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS cons`,
	`CREATE SCHEMA IF NOT EXISTS sys`,
	`CREATE SCHEMA IF NOT EXISTS log`,

	`CREATE TABLE IF NOT EXISTS cons.consultation (
		cons_id             text PRIMARY KEY,
		cl_ref_key          uuid UNIQUE,
		number              text NOT NULL DEFAULT '',
		status              text NOT NULL DEFAULT 'new',
		consultation_type   text NOT NULL DEFAULT 'tech_support',
		denied              boolean NOT NULL DEFAULT false,
		create_date         timestamptz,
		start_date          timestamptz,
		end_date            timestamptz,
		redate              date,
		redate_time         time,
		client_key          uuid,
		client_id           text NOT NULL DEFAULT '',
		org_inn             text NOT NULL DEFAULT '',
		manager             text,
		author              text NOT NULL DEFAULT '',
		comment             text NOT NULL DEFAULT '',
		online_question_cat text NOT NULL DEFAULT '',
		online_question     text NOT NULL DEFAULT '',
		source              text NOT NULL DEFAULT 'ETL',
		con_blocks          uuid,
		con_calls           jsonb,
		con_rates           jsonb,
		updated_at          timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS consultation_manager_status_idx
		ON cons.consultation (manager, status)`,

	`CREATE TABLE IF NOT EXISTS cons.consultation_qa (
		cons_ref_key uuid NOT NULL,
		line_number  integer NOT NULL,
		question     text NOT NULL DEFAULT '',
		answer       text NOT NULL DEFAULT '',
		block_key    uuid,
		PRIMARY KEY (cons_ref_key, line_number)
	)`,

	`CREATE TABLE IF NOT EXISTS cons.call (
		period   timestamptz NOT NULL,
		cons_key uuid NOT NULL,
		manager  uuid NOT NULL,
		PRIMARY KEY (period, cons_key, manager)
	)`,

	`CREATE TABLE IF NOT EXISTS cons.cons_redate (
		cons_key    uuid NOT NULL,
		clients_key uuid NOT NULL,
		manager_key uuid NOT NULL,
		period      timestamptz NOT NULL,
		old_date    timestamptz,
		new_date    timestamptz,
		PRIMARY KEY (cons_key, clients_key, manager_key, period)
	)`,

	`CREATE TABLE IF NOT EXISTS cons.cons_rating_answer (
		cons_key        uuid NOT NULL,
		manager_key     uuid NOT NULL,
		question_number integer NOT NULL,
		ref_key         uuid,
		value           numeric,
		PRIMARY KEY (cons_key, manager_key, question_number)
	)`,

	`CREATE TABLE IF NOT EXISTS cons.app_user (
		account_id           uuid PRIMARY KEY,
		cl_ref_key           uuid UNIQUE,
		description          text NOT NULL DEFAULT '',
		department           text NOT NULL DEFAULT '',
		con_limit            integer NOT NULL DEFAULT 0,
		start_hour           time,
		end_hour             time,
		ru                   boolean NOT NULL DEFAULT false,
		uz                   boolean NOT NULL DEFAULT false,
		deletion_mark        boolean NOT NULL DEFAULT false,
		invalid              boolean NOT NULL DEFAULT false,
		consultation_enabled boolean NOT NULL DEFAULT true,
		chatwoot_user_id     integer,
		chatwoot_team        text NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS cons.user_skill (
		user_key     uuid NOT NULL,
		category_key uuid NOT NULL,
		PRIMARY KEY (user_key, category_key)
	)`,

	`CREATE TABLE IF NOT EXISTS cons.user_mapping (
		chatwoot_user_id integer PRIMARY KEY,
		cl_ref_key       uuid NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS cons.queue_closing (
		period_day  date NOT NULL,
		manager_key uuid NOT NULL,
		PRIMARY KEY (period_day, manager_key)
	)`,

	`CREATE TABLE IF NOT EXISTS sys.sync_state (
		entity_name     text PRIMARY KEY,
		last_synced_at  timestamptz,
		last_synced_key text,
		updated_at      timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sys.notification_log (
		unique_hash       text PRIMARY KEY,
		notification_type text NOT NULL,
		entity_id         text NOT NULL,
		created_at        timestamptz NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sys.change_log (
		id             bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		cons_id        text NOT NULL,
		field          text NOT NULL,
		old_value      text,
		new_value      text,
		source         text NOT NULL,
		synced_to_chat boolean NOT NULL DEFAULT false,
		synced_to_erp  boolean NOT NULL DEFAULT false,
		created_at     timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS change_log_cons_field_idx
		ON sys.change_log (cons_id, field, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS log.webhook_log (
		id            bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		event         text NOT NULL,
		payload       jsonb NOT NULL,
		processed     boolean NOT NULL DEFAULT false,
		error_message text,
		created_at    timestamptz NOT NULL DEFAULT now()
	)`,
}

// Migrate applies the schema. Safe to run on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Info().Int("statements", len(schema)).Msg("schema applied")
	return nil
}
