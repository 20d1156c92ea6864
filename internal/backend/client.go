// Package backend is the HTTP client for the persistence backend. It covers
// configuration documents, master data, quote bundles and uploads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
)

// InsurerHeader scopes every insurer-owned request.
const InsurerHeader = "X-Insurer-ID"

var tracer = otel.Tracer("ratedesk-backend")

// ItemsEnvelope is the body of config reads and the inner object of writes.
type ItemsEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

// MasterDataEnvelope is the body of master-data reads and writes.
type MasterDataEnvelope struct {
	Kind    string                `json:"kind,omitempty"`
	Options []domain.MasterOption `json:"options"`
}

// ErrorBody is the error shape returned by the backend.
type ErrorBody struct {
	Error   string           `json:"error,omitempty"`
	Message string           `json:"message,omitempty"`
	Kind    domain.ErrorKind `json:"kind,omitempty"`
}

// Client talks to the persistence backend.
type Client struct {
	baseURL    string
	token      string
	http       *http.Client
	maxRetries int
	retryWait  time.Duration
	log        *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRetryWait sets the initial wait between retried reads.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// NewClient creates a client for cfg.
func NewClient(cfg domain.BackendConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		http:       &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		retryWait:  200 * time.Millisecond,
		log:        logging.Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConfigPath is the resource path of one domain's configuration.
func ConfigPath(key domain.ConfigKey) (string, error) {
	d, err := domain.Lookup(key.Domain)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/api/v1/insurers/%s/products/%s/config/%s",
		url.PathEscape(key.InsurerID), url.PathEscape(key.ProductID), d.Endpoint()), nil
}

// Fetch implements domain.ConfigBackend.
func (c *Client) Fetch(ctx context.Context, key domain.ConfigKey) ([]json.RawMessage, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	path, _ := ConfigPath(key)

	var env ItemsEnvelope
	if err := c.get(ctx, path, key.InsurerID, &env); err != nil {
		return nil, err
	}
	if env.Items == nil {
		env.Items = []json.RawMessage{}
	}
	return env.Items, nil
}

// Create implements domain.ConfigBackend.
func (c *Client) Create(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	return c.write(ctx, http.MethodPost, key, items)
}

// Update implements domain.ConfigBackend.
func (c *Client) Update(ctx context.Context, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	return c.write(ctx, http.MethodPatch, key, items)
}

func (c *Client) write(ctx context.Context, method string, key domain.ConfigKey, items []json.RawMessage) ([]json.RawMessage, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	d := domain.MustLookup(key.Domain)
	path, _ := ConfigPath(key)

	if items == nil {
		items = []json.RawMessage{}
	}
	body, err := json.Marshal(map[string]ItemsEnvelope{d.PayloadKey(): {Items: items}})
	if err != nil {
		return nil, err
	}

	var resp map[string]ItemsEnvelope
	if err := c.do(ctx, method, path, key.InsurerID, "application/json", body, &resp); err != nil {
		return nil, err
	}
	env, ok := resp[d.PayloadKey()]
	if !ok {
		return nil, domain.NewError(domain.KindMalformed, fmt.Sprintf("%s response has no %s", method, d.PayloadKey()), nil)
	}
	return env.Items, nil
}

// OptionSet implements domain.MasterDataSource.
func (c *Client) OptionSet(ctx context.Context, kind string) ([]domain.MasterOption, error) {
	var env MasterDataEnvelope
	if err := c.get(ctx, "/api/v1/master-data/"+url.PathEscape(kind), "", &env); err != nil {
		return nil, err
	}
	if env.Options == nil {
		env.Options = []domain.MasterOption{}
	}
	return env.Options, nil
}

// PutOptionSet replaces a master-data option set.
func (c *Client) PutOptionSet(ctx context.Context, kind string, options []domain.MasterOption) error {
	body, err := json.Marshal(MasterDataEnvelope{Kind: kind, Options: options})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/api/v1/master-data/"+url.PathEscape(kind), "", "application/json", body, nil)
}

// Proposal implements domain.ProposalSource.
func (c *Client) Proposal(ctx context.Context, insurerID, quoteID string) (*domain.ProposalAggregate, error) {
	var p domain.ProposalAggregate
	if err := c.get(ctx, bundlePath(quoteID), insurerID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProposal stores a quote bundle.
func (c *Client) PutProposal(ctx context.Context, insurerID string, p *domain.ProposalAggregate) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, bundlePath(p.QuoteID), insurerID, "application/json", body, nil)
}

func bundlePath(quoteID string) string {
	return "/api/v1/quotes/" + url.PathEscape(quoteID) + "/bundle"
}

// Upload implements domain.Uploader as a multipart POST.
func (c *Client) Upload(ctx context.Context, name, contentType string, _ int64, r io.Reader) (*domain.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreatePart(filePartHeader(name, contentType))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var res domain.UploadResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/uploads", "", mw.FormDataContentType(), buf.Bytes(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// get retries transient failures up to maxRetries times.
func (c *Client) get(ctx context.Context, path, insurerID string, out any) error {
	if c.maxRetries <= 0 {
		return c.do(ctx, http.MethodGet, path, insurerID, "", nil, out)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryWait
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.do(ctx, http.MethodGet, path, insurerID, "", nil, out)
		if err == nil {
			return nil
		}
		if !domain.Retryable(err) {
			return backoff.Permanent(err)
		}
		c.log.Warnw("backend read failed", "path", path, "attempt", attempt, "error", err)
		return err
	}, policy)
}

func (c *Client) do(ctx context.Context, method, path, insurerID, contentType string, body []byte, out any) error {
	ctx, span := tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
			attribute.String("insurer.id", insurerID),
		),
	)
	defer span.End()

	err := c.roundTrip(ctx, method, path, insurerID, contentType, body, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path, insurerID, contentType string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if insurerID != "" {
		req.Header.Set(InsurerHeader, insurerID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.NewError(domain.KindServerError, "backend unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewError(domain.KindServerError, "read backend response", err)
	}

	if resp.StatusCode >= 400 {
		return ErrorFromResponse(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.NewError(domain.KindMalformed, fmt.Sprintf("decode %s %s response", method, path), err)
	}
	return nil
}

// ErrorFromResponse classifies an error response, keeping the backend's
// message verbatim.
func ErrorFromResponse(status int, body []byte) *domain.Error {
	var eb ErrorBody
	msg := ""
	if json.Unmarshal(body, &eb) == nil {
		msg = eb.Message
		if msg == "" {
			msg = eb.Error
		}
	} else if len(body) > 0 && len(body) < 512 {
		msg = strings.TrimSpace(string(body))
	}
	return domain.ErrorFromStatus(status, msg)
}

func filePartHeader(name, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="files"; filename="%s"`, escaped)},
		"Content-Type":        {contentType},
	}
}
