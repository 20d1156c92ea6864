package domain

import (
	"context"
	"encoding/json"
	"io"
)

// ConfigBackend is the persistence boundary for configuration domains.
// Item lists are passed raw; each domain's codec validates them.
type ConfigBackend interface {
	// Fetch returns the stored items. A missing configuration is a KindNotFound error.
	Fetch(ctx context.Context, key ConfigKey) ([]json.RawMessage, error)

	// Create stores items as the full configuration and returns the stored result.
	Create(ctx context.Context, key ConfigKey, items []json.RawMessage) ([]json.RawMessage, error)

	// Update merges items into the existing configuration and returns the stored result.
	Update(ctx context.Context, key ConfigKey, items []json.RawMessage) ([]json.RawMessage, error)
}

// MasterDataSource looks up canonical option sets.
type MasterDataSource interface {
	OptionSet(ctx context.Context, kind string) ([]MasterOption, error)
}

// ProposalSource reads quote bundles.
type ProposalSource interface {
	Proposal(ctx context.Context, insurerID, quoteID string) (*ProposalAggregate, error)
}

// UploadedFile is one stored file.
type UploadedFile struct {
	URL          string `json:"url"`
	OriginalName string `json:"original_name"`
}

// UploadResult is the file-upload response body.
type UploadResult struct {
	Files []UploadedFile `json:"files"`
}

// Uploader stores binary payloads such as logos and document templates.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (*UploadResult, error)
}
