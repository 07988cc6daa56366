package database

import (
	"database/sql"
	"log"

	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/internal/cache"

	_ "github.com/lib/pq"
)

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

// NewDataSource opens the postgres connection and ensures the schema exists.
// The datasource is constructed and injected by callers; there is no
// package-level singleton, so tests can substitute a sqlmock-backed instance.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con}, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	if err := CreateTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateTables creates every table the core touches. All statements are
// idempotent.
func CreateTables(db *sql.DB) error {
	for _, create := range []func(*sql.DB) error{
		createAccountTable,
		createJobTable,
		createCreditEntryTable,
		createAssetTable,
		createFailedJobTable,
		createViolationTable,
		createModelRoutingTable,
	} {
		if err := create(db); err != nil {
			return err
		}
	}
	return nil
}

func createAccountTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			tier TEXT NOT NULL DEFAULT 'free',
			locale TEXT NOT NULL DEFAULT 'uz',
			violation_count INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating accounts table: %v", err)
	}
	return err
}

func createJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(account_id),
			idempotency_key TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			background_style TEXT,
			template_layout TEXT,
			mannequin_mode TEXT,
			custom_prompt TEXT,
			source_channel TEXT,
			source_image_key TEXT,
			priority TEXT NOT NULL DEFAULT 'low',
			status TEXT NOT NULL DEFAULT 'created',
			attempts INT NOT NULL DEFAULT 0,
			last_error_code TEXT,
			last_error_message TEXT,
			stage_durations JSONB,
			total_duration_ms BIGINT NOT NULL DEFAULT 0,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			queued_at TIMESTAMP,
			processing_started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating jobs table: %v", err)
	}
	return err
}

func createCreditEntryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_entries (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES accounts(account_id),
			amount BIGINT NOT NULL,
			reason TEXT NOT NULL,
			job_id TEXT,
			payment_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating credit_entries table: %v", err)
	}
	return err
}

func createAssetTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS assets (
			id SERIAL PRIMARY KEY,
			asset_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			bucket TEXT NOT NULL,
			storage_key TEXT NOT NULL,
			content_type TEXT NOT NULL,
			byte_size BIGINT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			format_tag TEXT NOT NULL,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating assets table: %v", err)
	}
	return err
}

func createFailedJobTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS failed_jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL,
			error_code TEXT NOT NULL,
			error_message TEXT,
			attempts INT NOT NULL,
			job_snapshot JSONB,
			reviewed BOOLEAN NOT NULL DEFAULT FALSE,
			reviewed_by TEXT,
			review_notes TEXT,
			failed_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating failed_jobs table: %v", err)
	}
	return err
}

func createViolationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS violations (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(account_id),
			type TEXT NOT NULL,
			details TEXT,
			action TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating violations table: %v", err)
	}
	return err
}

func createModelRoutingTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS model_routings (
			id SERIAL PRIMARY KEY,
			category TEXT NOT NULL UNIQUE,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			fallback_provider TEXT,
			fallback_model TEXT,
			timeout_seconds INT NOT NULL DEFAULT 60,
			prompt_template TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating model_routings table: %v", err)
	}
	return err
}
