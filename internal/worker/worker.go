// Package worker keeps a node's rating state in step with configuration
// events and answers pricing requests arriving over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opensource-finance/ratedesk/internal/bus"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/pricing"
	"github.com/opensource-finance/ratedesk/internal/rating"
)

// Invalidator drops cached master-data option sets.
type Invalidator interface {
	Invalidate(ctx context.Context, kinds ...string) error
}

// Worker subscribes per insurer to configuration and quoting topics.
type Worker struct {
	bus      domain.EventBus
	registry *rating.Registry
	quoter   *pricing.Quoter
	master   Invalidator
	log      *zap.SugaredLogger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config lists the insurers this node serves.
type Config struct {
	InsurerIDs []string
}

// NewWorker creates a worker. quoter and master may be nil; the matching
// subscriptions are then skipped.
func NewWorker(b domain.EventBus, registry *rating.Registry, quoter *pricing.Quoter, master Invalidator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      b,
		registry: registry,
		quoter:   quoter,
		master:   master,
		log:      logging.Named("worker"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes for every insurer in cfg. A failed insurer is logged and
// skipped.
func (w *Worker) Start(cfg Config) error {
	if w.master != nil {
		if err := w.subscribe(domain.GlobalTenant, domain.TopicMasterDataChanged, w.handleMasterData); err != nil {
			return err
		}
	}

	for _, insurerID := range cfg.InsurerIDs {
		if err := w.startInsurer(insurerID); err != nil {
			w.log.Errorw("failed to start insurer worker", "insurer", insurerID, "error", err)
		}
	}

	w.log.Infow("workers started", "insurer_count", len(cfg.InsurerIDs))
	return nil
}

func (w *Worker) startInsurer(insurerID string) error {
	if err := w.subscribe(insurerID, domain.TopicConfigSaved, w.handleConfigSaved); err != nil {
		return err
	}
	if w.quoter == nil {
		return nil
	}
	return w.subscribe(insurerID, domain.TopicQuotePrice, w.handlePriceRequest)
}

func (w *Worker) subscribe(tenantID, topic string, h domain.MessageHandler) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, h)
	if err != nil {
		return fmt.Errorf("subscribe %s for %s: %w", topic, tenantID, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
	return nil
}

// handleConfigSaved swaps in the saved range table. Other shapes are read
// through their coordinators and need no refresh.
func (w *Worker) handleConfigSaved(_ context.Context, msg *domain.Message) error {
	var ev domain.ConfigEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("decode config event %s: %w", msg.ID, err)
	}
	if ev.InsurerID != msg.TenantID {
		return fmt.Errorf("config event for %s arrived on %s", ev.InsurerID, msg.TenantID)
	}

	desc, err := domain.Lookup(ev.Domain)
	if err != nil || desc.Shape != domain.ShapeRange || w.registry == nil {
		return nil
	}
	if err := w.registry.LoadRaw(ev.Key(), ev.Items); err != nil {
		return fmt.Errorf("reload %s: %w", ev.Key(), err)
	}

	w.log.Infow("range table reloaded", "key", ev.Key().String(), "rules", len(ev.Items))
	return nil
}

// PriceReply is the response to a TopicQuotePrice request.
type PriceReply struct {
	Quote *pricing.Quote `json:"quote,omitempty"`
	Error string         `json:"error,omitempty"`
	Kind  string         `json:"kind,omitempty"`
}

func (w *Worker) handlePriceRequest(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req pricing.QuoteRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return w.reply(ctx, msg, PriceReply{Error: "malformed price request", Kind: string(domain.KindMalformed)})
	}
	req.InsurerID = msg.TenantID

	quote, err := w.quoter.Quote(ctx, req)
	if err != nil {
		w.log.Warnw("pricing failed", "quote_id", req.QuoteID, "insurer", req.InsurerID, "error", err)
		return w.reply(ctx, msg, PriceReply{Error: err.Error(), Kind: string(domain.KindOf(err))})
	}

	if err := bus.PublishJSON(ctx, w.bus, req.InsurerID, domain.TopicQuotePriced, quote); err != nil {
		w.log.Errorw("failed to publish priced quote", "quote_id", req.QuoteID, "error", err)
	}

	w.log.Infow("quote priced",
		"quote_id", req.QuoteID,
		"insurer", req.InsurerID,
		"decision", quote.Decision,
		"total", quote.Total.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return w.reply(ctx, msg, PriceReply{Quote: quote})
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, r PriceReply) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if msg.Metadata[bus.MetaReplyTo] == "" {
		return nil
	}
	return bus.Respond(ctx, w.bus, msg, payload)
}

func (w *Worker) handleMasterData(ctx context.Context, msg *domain.Message) error {
	kind := string(msg.Payload)
	if kind == "" {
		return nil
	}
	return w.master.Invalidate(ctx, kind)
}

// Stop cancels every subscription.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.log.Errorw("failed to unsubscribe", "topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	w.log.Info("workers stopped")
	return nil
}

// Stats describes the active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{SubscriptionCount: len(w.subscriptions), Topics: topics}
}
