// Package repository stores configuration documents, quote bundles and
// master data for the reference backend.
package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// SQLRepository implements domain.Repository on SQLite or PostgreSQL.
type SQLRepository struct {
	db     *sqlx.DB
	driver string
	now    func() time.Time
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sqlx.DB
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
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver, now: func() time.Time { return time.Now().UTC() }}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
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

type configRow struct {
	Items   string `db:"items"`
	Version int    `db:"version"`
}

func checkKey(key domain.ConfigKey) (domain.Descriptor, error) {
	if err := key.Validate(); err != nil {
		return domain.Descriptor{}, err
	}
	return domain.MustLookup(key.Domain), nil
}

// GetConfig returns the stored items, or KindNotFound.
func (r *SQLRepository) GetConfig(ctx context.Context, key domain.ConfigKey) ([]json.RawMessage, error) {
	if _, err := checkKey(key); err != nil {
		return nil, err
	}
	items, _, err := r.loadConfig(ctx, r.db, key)
	return items, err
}

func (r *SQLRepository) loadConfig(ctx context.Context, q sqlx.QueryerContext, key domain.ConfigKey) ([]json.RawMessage, int, error) {
	var row configRow
	err := sqlx.GetContext(ctx, q, &row, r.db.Rebind(`
		SELECT items, version FROM config_documents
		WHERE insurer_id = ? AND product_id = ? AND domain = ?`),
		key.InsurerID, key.ProductID, string(key.Domain))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, domain.NewError(domain.KindNotFound, fmt.Sprintf("%s configuration not found", key.Domain), nil)
	}
	if err != nil {
		return nil, 0, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(row.Items), &items); err != nil {
		return nil, 0, domain.NewError(domain.KindMalformed, fmt.Sprintf("stored %s configuration", key.Domain), err)
	}
	return items, row.Version, nil
}

// ReplaceConfig stores items as the whole configuration.
func (r *SQLRepository) ReplaceConfig(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	desc, err := checkKey(key)
	if err != nil {
		return nil, err
	}
	items, err = Normalize(desc, items)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := r.storeConfig(ctx, tx, key, items); err != nil {
		return nil, err
	}
	return items, tx.Commit()
}

// MergeConfig upserts items into the stored configuration by identity
// field. Incoming fields overwrite stored ones; unmatched items are appended.
func (r *SQLRepository) MergeConfig(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	desc, err := checkKey(key)
	if err != nil {
		return nil, err
	}
	if !desc.Merge {
		return nil, domain.NewError(domain.KindConflict, fmt.Sprintf("%s only accepts full replacement", key.Domain), nil)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stored, _, err := r.loadConfig(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	merged, err := Merge(desc, stored, items)
	if err != nil {
		return nil, err
	}
	if merged, err = Normalize(desc, merged); err != nil {
		return nil, err
	}
	if err := r.storeConfig(ctx, tx, key, merged); err != nil {
		return nil, err
	}
	return merged, tx.Commit()
}

func (r *SQLRepository) storeConfig(ctx context.Context, tx *sqlx.Tx, key domain.ConfigKey, items []json.RawMessage) error {
	if items == nil {
		items = []json.RawMessage{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return err
	}
	now := r.now()
	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO config_documents (insurer_id, product_id, domain, items, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (insurer_id, product_id, domain) DO UPDATE SET
			items = excluded.items,
			version = config_documents.version + 1,
			updated_at = excluded.updated_at`),
		key.InsurerID, key.ProductID, string(key.Domain), string(body), now, now)
	return err
}

// Merge applies incoming, the full item list, over stored. The incoming list
// decides which items exist and in what order; an item matched by desc's
// identity field keeps the stored fields it does not resend. Range rules
// without a known id match an unclaimed stored rule covering the same band
// and keep its id.
func Merge(desc domain.Descriptor, stored, incoming []json.RawMessage) ([]json.RawMessage, error) {
	prior := make([]map[string]json.RawMessage, 0, len(stored))
	index := make(map[string]int, len(stored))
	for _, raw := range stored {
		obj, err := object(desc, raw)
		if err != nil {
			return nil, err
		}
		if id := identity(desc, obj); id != "" {
			if _, dup := index[id]; !dup {
				index[id] = len(prior)
			}
		}
		prior = append(prior, obj)
	}

	claimed := make([]bool, len(prior))
	out := make([]map[string]json.RawMessage, 0, len(incoming))
	for _, raw := range incoming {
		obj, err := object(desc, raw)
		if err != nil {
			return nil, err
		}

		i, ok := index[identity(desc, obj)]
		if ok && claimed[i] {
			ok = false
		}
		if !ok && desc.Shape == domain.ShapeRange {
			i, ok = sameBand(prior, claimed, obj)
			if ok {
				obj["id"] = prior[i]["id"]
			}
		}
		if !ok {
			out = append(out, obj)
			continue
		}

		claimed[i] = true
		merged := make(map[string]json.RawMessage, len(prior[i])+len(obj))
		for k, v := range prior[i] {
			merged[k] = v
		}
		for k, v := range obj {
			merged[k] = v
		}
		out = append(out, merged)
	}

	return encodeAll(out)
}

// sameBand finds the first unclaimed stored rule with obj's from and to.
func sameBand(prior []map[string]json.RawMessage, claimed []bool, obj map[string]json.RawMessage) (int, bool) {
	from, to := bandOf(obj)
	for i, p := range prior {
		if claimed[i] || stringField(p, "id") == "" {
			continue
		}
		if pf, pt := bandOf(p); pf == from && pt == to {
			return i, true
		}
	}
	return 0, false
}

func bandOf(obj map[string]json.RawMessage) (from, to string) {
	return compact(obj["from"]), compact(obj["to"])
}

func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Normalize assigns ids to range rules that lack one and orders option rows
// by display order.
func Normalize(desc domain.Descriptor, items []json.RawMessage) ([]json.RawMessage, error) {
	objs := make([]map[string]json.RawMessage, len(items))
	for i, raw := range items {
		obj, err := object(desc, raw)
		if err != nil {
			return nil, err
		}
		objs[i] = obj
	}

	switch desc.Shape {
	case domain.ShapeRange:
		for _, obj := range objs {
			if stringField(obj, "id") == "" {
				obj["id"], _ = json.Marshal(uuid.New().String())
			}
		}
	case domain.ShapeOption:
		orders := make([]float64, len(objs))
		for i, obj := range objs {
			_ = json.Unmarshal(obj["display_order"], &orders[i])
		}
		idx := make([]int, len(objs))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return orders[idx[a]] < orders[idx[b]] })
		sorted := make([]map[string]json.RawMessage, len(objs))
		for i, j := range idx {
			sorted[i] = objs[j]
		}
		objs = sorted
	}

	return encodeAll(objs)
}

func object(desc domain.Descriptor, raw json.RawMessage) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, domain.NewError(domain.KindBadRequest, fmt.Sprintf("%s items must be objects", desc.Key), err)
	}
	return obj, nil
}

// identity is the item's identity value. Option names compare
// case-insensitively and fall back to the legacy "name" field.
func identity(desc domain.Descriptor, obj map[string]json.RawMessage) string {
	field := desc.IdentityField()
	id := stringField(obj, field)
	if id == "" && desc.Shape == domain.ShapeOption {
		id = stringField(obj, domain.LegacyNameField)
	}
	if desc.Shape == domain.ShapeOption {
		return strings.ToLower(strings.TrimSpace(id))
	}
	return id
}

func stringField(obj map[string]json.RawMessage, field string) string {
	raw, ok := obj[field]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return s
}

func encodeAll(objs []map[string]json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(objs))
	for i, obj := range objs {
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

type proposalRow struct {
	Body string `db:"body"`
}

// SaveProposal stores a quote bundle under insurerID.
func (r *SQLRepository) SaveProposal(ctx context.Context, insurerID string, p *domain.ProposalAggregate) error {
	if insurerID == "" || p == nil || p.QuoteID == "" {
		return domain.NewError(domain.KindValidation, "insurer and quote id are required", nil)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	status := ""
	if p.QuoteMeta != nil {
		status = p.QuoteMeta.Status
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO proposals (insurer_id, quote_id, status, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (insurer_id, quote_id) DO UPDATE SET
			status = excluded.status,
			body = excluded.body,
			updated_at = excluded.updated_at`),
		insurerID, p.QuoteID, status, string(body), r.now())
	return err
}

// GetProposal returns the bundle, or KindNotFound. Bundles of other insurers
// are not visible.
func (r *SQLRepository) GetProposal(ctx context.Context, insurerID, quoteID string) (*domain.ProposalAggregate, error) {
	if insurerID == "" {
		return nil, domain.NewError(domain.KindValidation, "insurer is required", nil)
	}
	var row proposalRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT body FROM proposals WHERE insurer_id = ? AND quote_id = ?`), insurerID, quoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, fmt.Sprintf("quote %s not found", quoteID), nil)
	}
	if err != nil {
		return nil, err
	}

	var p domain.ProposalAggregate
	if err := json.Unmarshal([]byte(row.Body), &p); err != nil {
		return nil, domain.NewError(domain.KindMalformed, fmt.Sprintf("stored quote %s", quoteID), err)
	}
	return &p, nil
}

// SaveMasterData replaces the option set for kind.
func (r *SQLRepository) SaveMasterData(ctx context.Context, kind string, options []domain.MasterOption) error {
	if kind == "" {
		return domain.NewError(domain.KindValidation, "master data kind is required", nil)
	}
	if options == nil {
		options = []domain.MasterOption{}
	}
	body, err := json.Marshal(options)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO master_data (kind, options, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (kind) DO UPDATE SET options = excluded.options, updated_at = excluded.updated_at`),
		kind, string(body), r.now())
	return err
}

// GetMasterData returns nil, nil for an unknown kind.
func (r *SQLRepository) GetMasterData(ctx context.Context, kind string) ([]domain.MasterOption, error) {
	var body string
	err := r.db.GetContext(ctx, &body, r.db.Rebind(`SELECT options FROM master_data WHERE kind = ?`), kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var options []domain.MasterOption
	if err := json.Unmarshal([]byte(body), &options); err != nil {
		return nil, domain.NewError(domain.KindMalformed, fmt.Sprintf("stored master data %s", kind), err)
	}
	return options, nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}
