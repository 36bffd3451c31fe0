// Package domain defines the core types, interfaces and errors for ringwatch.
package domain

import (
	"context"
	"time"
)

// StoredReport is a finished analysis kept for listing and download.
type StoredReport struct {
	// Name is the download key, e.g. "transactions_analysis".
	Name     string           `json:"name"`
	FileName string           `json:"fileName"`
	Report   *Report          `json:"report"`
	Summary  []RingSummaryRow `json:"summary"`

	CreatedAt time.Time `json:"createdAt"`
}

// ReportInfo is the listing entry for a stored report.
type ReportInfo struct {
	Name      string    `json:"name"`
	FileName  string    `json:"fileName"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReportRepository persists finished analysis reports. The detection
// engine never touches it; only the outer analysis service does.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *StoredReport) error
	GetReport(ctx context.Context, name string) (*StoredReport, error)
	ListReports(ctx context.Context) ([]ReportInfo, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `koanf:"sqlitepath"`

	// PostgreSQL specific. PostgresURL, when set, overrides the fields below.
	PostgresURL      string `koanf:"postgresurl"`
	PostgresHost     string `koanf:"postgreshost"`
	PostgresPort     int    `koanf:"postgresport"`
	PostgresUser     string `koanf:"postgresuser"`
	PostgresPassword string `koanf:"postgrespassword"`
	PostgresDB       string `koanf:"postgresdb"`
	PostgresSSLMode  string `koanf:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"maxopenconns"`
	MaxIdleConns    int           `koanf:"maxidleconns"`
	ConnMaxLifetime time.Duration `koanf:"connmaxlifetime"`
}
