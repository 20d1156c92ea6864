package repository

// Statements are portable between SQLite and PostgreSQL.

const schemaConfigDocuments = `
CREATE TABLE IF NOT EXISTS config_documents (
    insurer_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    domain TEXT NOT NULL,
    items TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (insurer_id, product_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_config_documents_insurer ON config_documents(insurer_id);
`

const schemaProposals = `
CREATE TABLE IF NOT EXISTS proposals (
    insurer_id TEXT NOT NULL,
    quote_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (insurer_id, quote_id)
);

CREATE INDEX IF NOT EXISTS idx_proposals_status ON proposals(insurer_id, status);
`

const schemaMasterData = `
CREATE TABLE IF NOT EXISTS master_data (
    kind TEXT PRIMARY KEY,
    options TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaConfigDocuments,
		schemaProposals,
		schemaMasterData,
	}
}
