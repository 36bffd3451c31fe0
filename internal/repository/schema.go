package repository

// Schema definitions for SQLite and PostgreSQL. Report bodies are stored
// as JSON text so both drivers share one table layout.

const schemaAnalysisReports = `
CREATE TABLE IF NOT EXISTS analysis_reports (
    name TEXT PRIMARY KEY,
    file_name TEXT NOT NULL,
    report TEXT NOT NULL,
    summary TEXT NOT NULL,
    accounts_analyzed INTEGER NOT NULL DEFAULT 0,
    rings_detected INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_reports_created ON analysis_reports(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalysisReports,
	}
}
