package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/opensource-finance/ratedesk/internal/backend"
	"github.com/opensource-finance/ratedesk/internal/bus"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/pricing"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	bus      domain.EventBus
	uploader domain.Uploader
	quoter   *pricing.Quoter
	version  string
	log      *zap.SugaredLogger
}

// NewHandler creates a new API handler. bus, uploader and quoter may be nil;
// the endpoints depending on them then answer 503.
func NewHandler(repo domain.Repository, bus domain.EventBus, uploader domain.Uploader, quoter *pricing.Quoter, version string) *Handler {
	return &Handler{
		repo:     repo,
		bus:      bus,
		uploader: uploader,
		quoter:   quoter,
		version:  version,
		log:      logging.Named("api"),
	}
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		h.log.Warnw("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func configKey(r *http.Request) (domain.ConfigKey, domain.Descriptor, error) {
	d, err := domain.LookupEndpoint(chi.URLParam(r, "endpoint"))
	if err != nil {
		return domain.ConfigKey{}, domain.Descriptor{}, domain.NewError(domain.KindNotFound, err.Error(), nil)
	}
	key := domain.ConfigKey{Domain: d.Key, InsurerID: chi.URLParam(r, "insurer"), ProductID: chi.URLParam(r, "product")}
	return key, d, nil
}

// GetConfig handles GET .../config/{endpoint}.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	key, _, err := configKey(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	items, err := h.repo.GetConfig(r.Context(), key)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backend.ItemsEnvelope{Items: items})
}

// CreateConfig handles POST .../config/{endpoint}: the body replaces the
// stored configuration.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	h.writeConfig(w, r, http.StatusCreated, "create", h.repo.ReplaceConfig)
}

// UpdateConfig handles PATCH .../config/{endpoint}: items merge by identity.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if _, d, err := configKey(r); err == nil && !d.Merge {
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s only accepts full replacement", d.Key))
		return
	}
	h.writeConfig(w, r, http.StatusOK, "update", h.repo.MergeConfig)
}

type configStore func(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error)

func (h *Handler) writeConfig(w http.ResponseWriter, r *http.Request, status int, op string, store configStore) {
	key, d, err := configKey(r)
	if err != nil {
		h.fail(w, err)
		return
	}

	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	payload, ok := body[d.PayloadKey()]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is required", d.PayloadKey()))
		return
	}
	var env backend.ItemsEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be an object with items", d.PayloadKey()))
		return
	}

	items, err := store(r.Context(), key, env.Items)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.log.Infow("configuration stored", "key", key.String(), "operation", op, "items", len(items))
	if h.bus != nil {
		ev := domain.ConfigEvent{
			Domain:    key.Domain,
			InsurerID: key.InsurerID,
			ProductID: key.ProductID,
			Operation: op,
			Count:     len(items),
			Items:     items,
		}
		if err := bus.PublishJSON(r.Context(), h.bus, key.InsurerID, domain.TopicConfigSaved, ev); err != nil {
			h.log.Warnw("failed to announce configuration", "key", key.String(), "error", err)
		}
	}
	writeJSON(w, status, map[string]backend.ItemsEnvelope{d.PayloadKey(): {Items: items}})
}

// GetMasterData handles GET /api/v1/master-data/{kind}.
func (h *Handler) GetMasterData(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	opts, err := h.repo.GetMasterData(r.Context(), kind)
	if err != nil {
		h.fail(w, err)
		return
	}
	if opts == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("master data %s not found", kind))
		return
	}
	writeJSON(w, http.StatusOK, backend.MasterDataEnvelope{Kind: kind, Options: opts})
}

// PutMasterData handles PUT /api/v1/master-data/{kind} and announces the
// change so cached option sets are dropped.
func (h *Handler) PutMasterData(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	var env backend.MasterDataEnvelope
	if err := decodeBody(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.repo.SaveMasterData(r.Context(), kind, env.Options); err != nil {
		h.fail(w, err)
		return
	}

	if h.bus != nil {
		if err := h.bus.Publish(r.Context(), domain.GlobalTenant, domain.TopicMasterDataChanged, []byte(kind)); err != nil {
			h.log.Warnw("failed to announce master data change", "kind", kind, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, backend.MasterDataEnvelope{Kind: kind, Options: env.Options})
}

// GetBundle handles GET /api/v1/quotes/{id}/bundle.
func (h *Handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetProposal(r.Context(), GetInsurerID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutBundle handles PUT /api/v1/quotes/{id}/bundle.
func (h *Handler) PutBundle(w http.ResponseWriter, r *http.Request) {
	var p domain.ProposalAggregate
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	id := chi.URLParam(r, "id")
	if p.QuoteID != "" && p.QuoteID != id {
		writeError(w, http.StatusBadRequest, "quote_id does not match path")
		return
	}
	p.QuoteID = id

	if err := h.repo.SaveProposal(r.Context(), GetInsurerID(r.Context()), &p); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &p)
}

// PriceQuote handles POST .../quotes/{id}/price.
func (h *Handler) PriceQuote(w http.ResponseWriter, r *http.Request) {
	if h.quoter == nil {
		writeError(w, http.StatusServiceUnavailable, "pricing not available")
		return
	}

	q, err := h.quoter.Quote(r.Context(), pricing.QuoteRequest{
		InsurerID: chi.URLParam(r, "insurer"),
		ProductID: chi.URLParam(r, "product"),
		QuoteID:   chi.URLParam(r, "id"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Upload handles multipart POST /api/v1/uploads. Every part named "files"
// is stored.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "file storage not configured")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body required")
		return
	}

	res := domain.UploadResult{Files: []domain.UploadedFile{}}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "files" || part.FileName() == "" {
			part.Close()
			continue
		}

		up, err := h.uploader.Upload(r.Context(), part.FileName(), part.Header.Get("Content-Type"), -1, part)
		part.Close()
		if err != nil {
			h.fail(w, err)
			return
		}
		res.Files = append(res.Files, up.Files...)
	}

	if len(res.Files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in request")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// fail writes err with the status its kind maps to. Server errors are logged
// and their detail withheld.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := domain.StatusFor(err)
	var de *domain.Error
	if status >= 500 || !errors.As(err, &de) {
		h.log.Errorw("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, backend.ErrorBody{
			Error: "internal server error",
			Kind:  domain.KindServerError,
		})
		return
	}
	writeJSON(w, status, backend.ErrorBody{Error: de.Message, Kind: de.Kind})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, backend.ErrorBody{Error: msg, Kind: domain.ErrorFromStatus(status, msg).Kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
