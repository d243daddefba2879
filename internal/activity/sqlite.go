package activity

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/denisvmedia/relayproxy/proxy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteTracker persists every lifecycle event to a local SQLite database
// (Config.ActivityDBPath), schema-managed with golang-migrate. Grounded on
// Resin's durable-storage layer, repurposed from whatever Resin stores to
// this proxy's activity log.
type SQLiteTracker struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteTracker opens (creating if necessary) the database at path and
// runs pending migrations.
func NewSQLiteTracker(path string, log *slog.Logger) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("activity: open sqlite: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	t := &SQLiteTracker{db: db, log: log}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *SQLiteTracker) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("activity: load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(t.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("activity: sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("activity: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("activity: run migrations: %w", err)
	}
	return nil
}

func (t *SQLiteTracker) Close() error { return t.db.Close() }

func (t *SQLiteTracker) insert(flowID, event, detail string) {
	_, err := t.db.Exec(
		`INSERT INTO activity_events (flow_id, event, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		flowID, event, detail, time.Now().UTC(),
	)
	if err != nil {
		t.log.Warn("activity: insert failed", "event", event, "error", err)
	}
}

func (t *SQLiteTracker) RequestReceived(flow *proxy.FlowContext) {
	t.insert(flow.FlowID, "request_received", flow.Authority)
}

func (t *SQLiteTracker) RequestSent(flow *proxy.FlowContext, upstream string) {
	t.insert(flow.FlowID, "request_sent", upstream)
}

func (t *SQLiteTracker) ResponseReceived(flow *proxy.FlowContext) {
	status := 0
	if flow.Response != nil {
		status = flow.Response.StatusCode
	}
	t.insert(flow.FlowID, "response_received", fmt.Sprintf("%d", status))
}

func (t *SQLiteTracker) ConnectionFailed(flow *proxy.FlowContext, err error) {
	flowID := ""
	if flow != nil {
		flowID = flow.FlowID
	}
	t.insert(flowID, "connection_failed", err.Error())
}
