package repository

import (
	"context"
	"encoding/json"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// Local serves the configuration and quote-bundle contracts straight from a
// Repository, for processes that host the store themselves.
type Local struct {
	Repo domain.Repository
}

func (l Local) Fetch(ctx context.Context, key domain.ConfigKey) ([]json.RawMessage, error) {
	return l.Repo.GetConfig(ctx, key)
}

func (l Local) Create(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	return l.Repo.ReplaceConfig(ctx, key, items)
}

func (l Local) Update(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	return l.Repo.MergeConfig(ctx, key, items)
}

func (l Local) Proposal(ctx context.Context, insurerID, quoteID string) (*domain.ProposalAggregate, error) {
	return l.Repo.GetProposal(ctx, insurerID, quoteID)
}
