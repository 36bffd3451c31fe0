// Package repository persists finished analysis reports.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

var ErrInvalidInput = errors.New("invalid input")

// SQLRepository implements domain.ReportRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport stores a report, replacing any earlier report of the same name.
func (r *SQLRepository) SaveReport(ctx context.Context, report *domain.StoredReport) error {
	if report == nil || report.Name == "" {
		return fmt.Errorf("%w: report name is required", ErrInvalidInput)
	}
	if report.Report == nil {
		return fmt.Errorf("%w: report body is required", ErrInvalidInput)
	}

	body, err := json.Marshal(report.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	summary := report.Summary
	if summary == nil {
		summary = []domain.RingSummaryRow{}
	}
	table, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO analysis_reports (
			name, file_name, report, summary,
			accounts_analyzed, rings_detected, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			file_name = excluded.file_name,
			report = excluded.report,
			summary = excluded.summary,
			accounts_analyzed = excluded.accounts_analyzed,
			rings_detected = excluded.rings_detected,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.Name, report.FileName,
		string(body), string(table),
		report.Report.Summary.TotalAccountsAnalyzed,
		report.Report.Summary.FraudRingsDetected,
		createdAt,
	)
	return err
}

// GetReport retrieves a report by name.
func (r *SQLRepository) GetReport(ctx context.Context, name string) (*domain.StoredReport, error) {
	query := `
		SELECT name, file_name, report, summary, created_at
		FROM analysis_reports
		WHERE name = ?
	`

	var stored domain.StoredReport
	var body, table string

	err := r.db.QueryRowContext(ctx, r.rebind(query), name).Scan(
		&stored.Name, &stored.FileName, &body, &table, &stored.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	stored.Report = &domain.Report{}
	if err := json.Unmarshal([]byte(body), stored.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(table), &stored.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary %s: %w", name, err)
	}

	return &stored, nil
}

// ListReports returns every stored report ordered by name.
func (r *SQLRepository) ListReports(ctx context.Context) ([]domain.ReportInfo, error) {
	query := `
		SELECT name, file_name, created_at
		FROM analysis_reports
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []domain.ReportInfo{}
	for rows.Next() {
		var info domain.ReportInfo
		if err := rows.Scan(&info.Name, &info.FileName, &info.CreatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
