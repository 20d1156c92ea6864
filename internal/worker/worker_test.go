package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/ratedesk/internal/bus"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/pricing"
	"github.com/opensource-finance/ratedesk/internal/rating"
)

type proposals map[string]*domain.ProposalAggregate

func (p proposals) Proposal(_ context.Context, _, quoteID string) (*domain.ProposalAggregate, error) {
	if agg, ok := p[quoteID]; ok {
		return agg, nil
	}
	return nil, domain.ErrorFromStatus(404, "quote not found")
}

type invalidations struct {
	mu    sync.Mutex
	kinds []string
}

func (i *invalidations) Invalidate(_ context.Context, kinds ...string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.kinds = append(i.kinds, kinds...)
	return nil
}

func (i *invalidations) seen() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.kinds...)
}

var key = domain.ConfigKey{Domain: domain.DurationLoadings, InsurerID: "ins-1", ProductID: "car"}

func TestWorkerStartAndStop(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	w := NewWorker(b, rating.NewRegistry(nil), nil, nil)
	require.NoError(t, w.Start(Config{InsurerIDs: []string{"ins-1", "ins-2"}}))
	assert.Equal(t, 2, w.GetStats().SubscriptionCount)

	require.NoError(t, w.Stop())
	assert.Zero(t, w.GetStats().SubscriptionCount)
}

func TestWorkerReloadsRangeTables(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	registry := rating.NewRegistry(nil)

	w := NewWorker(b, registry, nil, nil)
	require.NoError(t, w.Start(Config{InsurerIDs: []string{"ins-1"}}))
	defer w.Stop()

	items := []json.RawMessage{
		json.RawMessage(`{"id":"r1","from":0,"to":12,"pricing_type":"percentage","loading_discount":4,"quote_decision":"auto_quote"}`),
		json.RawMessage(`{"id":"r2","from":12,"to":999,"pricing_type":"percentage","loading_discount":6,"quote_decision":"manual_review"}`),
	}
	ctx := context.Background()
	require.NoError(t, bus.PublishJSON(ctx, b, "ins-1", domain.TopicConfigSaved, domain.ConfigEvent{
		Domain: key.Domain, InsurerID: key.InsurerID, ProductID: key.ProductID, Operation: "create", Count: 2, Items: items,
	}))
	require.NoError(t, bus.PublishJSON(ctx, b, "ins-1", domain.TopicConfigSaved, domain.ConfigEvent{
		Domain: domain.Countries, InsurerID: "ins-1", ProductID: "car", Operation: "update",
	}))

	require.Eventually(t, func() bool {
		_, ok := registry.Rules(key)
		return ok
	}, time.Second, 5*time.Millisecond)

	rule, ok := registry.Evaluate(key, 500)
	require.True(t, ok)
	assert.Equal(t, "r2", rule.ID, "999 reads as unbounded")
	assert.Equal(t, 1, registry.Len(), "option domains do not touch the registry")
}

func TestWorkerAnswersPriceRequests(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	registry := rating.NewRegistry(nil)
	quoter := &pricing.Quoter{
		Calc: pricing.NewCalculator(registry),
		Proposals: proposals{"Q-7": {
			QuoteID:           "Q-7",
			Project:           &domain.ProjectDetails{SubProjectType: "Villa"},
			CoverRequirements: &domain.CoverRequirements{SumInsured: 500_000},
		}},
	}

	w := NewWorker(b, registry, quoter, nil)
	require.NoError(t, w.Start(Config{InsurerIDs: []string{"ins-1"}}))
	defer w.Stop()

	priced := make(chan *domain.Message, 1)
	_, err := b.Subscribe(context.Background(), "ins-1", domain.TopicQuotePriced, func(_ context.Context, msg *domain.Message) error {
		priced <- msg
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, err := b.Request(ctx, "ins-1", domain.TopicQuotePrice, []byte(`{"product_id":"car","quote_id":"Q-7","insurer_id":"spoofed"}`))
	require.NoError(t, err)
	var reply PriceReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	require.NotNil(t, reply.Quote, reply.Error)
	assert.Equal(t, "Q-7", reply.Quote.QuoteID)
	assert.Equal(t, domain.DecisionManualReview, reply.Quote.Decision, "no base rate configured")

	select {
	case <-priced:
	case <-time.After(time.Second):
		t.Fatal("priced quote not published")
	}

	raw, err = b.Request(ctx, "ins-1", domain.TopicQuotePrice, []byte(`{"quote_id":"nope"}`))
	require.NoError(t, err)
	reply = PriceReply{}
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Nil(t, reply.Quote)
	assert.Equal(t, string(domain.KindNotFound), reply.Kind)
}

func TestWorkerInvalidatesMasterData(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()
	inv := &invalidations{}

	w := NewWorker(b, nil, nil, inv)
	require.NoError(t, w.Start(Config{}))
	defer w.Stop()
	assert.Equal(t, []string{domain.TopicMasterDataChanged}, w.GetStats().Topics)

	require.NoError(t, b.Publish(context.Background(), domain.GlobalTenant, domain.TopicMasterDataChanged, []byte("countries")))
	require.Eventually(t, func() bool { return len(inv.seen()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"countries"}, inv.seen())
}
