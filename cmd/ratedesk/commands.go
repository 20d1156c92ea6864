package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/ratedesk/internal/bus"
	"github.com/opensource-finance/ratedesk/internal/cache"
	"github.com/opensource-finance/ratedesk/internal/clauses"
	"github.com/opensource-finance/ratedesk/internal/domain"
	"github.com/opensource-finance/ratedesk/internal/identity"
	"github.com/opensource-finance/ratedesk/internal/lifecycle"
	"github.com/opensource-finance/ratedesk/internal/logging"
	"github.com/opensource-finance/ratedesk/internal/masterdata"
	"github.com/opensource-finance/ratedesk/internal/options"
	"github.com/opensource-finance/ratedesk/internal/pricing"
	"github.com/opensource-finance/ratedesk/internal/rating"
	"github.com/opensource-finance/ratedesk/internal/worker"
)

var (
	insurerID string
	productID string
	quoteID   string
)

func scopeFlags(cmd *cobra.Command, withProduct bool) {
	cmd.Flags().StringVar(&insurerID, "insurer", "", "insurer ID")
	cmd.MarkFlagRequired("insurer")
	if withProduct {
		cmd.Flags().StringVar(&productID, "product", "", "product ID")
		cmd.MarkFlagRequired("product")
	}
}

// evaluate

var (
	evalDomain string
	evalValue  float64
	evalBase   string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate a stored range table against a value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key := domain.DomainKey(evalDomain)
		desc, err := domain.Lookup(key)
		if err != nil {
			return err
		}
		if desc.Shape != domain.ShapeRange {
			return fmt.Errorf("%s is not a range domain", key)
		}
		base, err := decimal.NewFromString(evalBase)
		if err != nil {
			return fmt.Errorf("invalid base %q: %w", evalBase, err)
		}

		rules, err := rating.NewService(newClient(), nil).Load(cmd.Context(), domain.Scope{InsurerID: insurerID, ProductID: productID}, key)
		if err != nil {
			return err
		}
		return printJSON(rating.EvaluateAndApply(rules, evalValue, base))
	},
}

// project

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Show which wizard steps a saved quote has completed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		agg, err := newClient().Proposal(cmd.Context(), insurerID, quoteID)
		if err != nil {
			return err
		}
		return printJSON(lifecycle.Project(agg))
	},
}

// resume

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Reopen a saved quote against live master data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newClient()
		agg, err := client.Proposal(cmd.Context(), insurerID, quoteID)
		if err != nil {
			return err
		}

		source, closeFn, err := cachedMaster(client)
		if err != nil {
			return err
		}
		defer closeFn()

		draft, err := (&identity.Resumer{Source: source}).Resume(cmd.Context(), agg)
		if err != nil {
			return err
		}
		return printJSON(draft)
	},
}

// cachedMaster puts the configured cache in front of the backend's master data.
func cachedMaster(upstream domain.MasterDataSource) (*masterdata.Cached, func(), error) {
	store, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize cache: %w", err)
	}
	return masterdata.NewCached(upstream, store, cfg.Cache.MasterDataTTL), func() { store.Close() }, nil
}

// price

var (
	priceViaBus  bool
	priceTimeout time.Duration
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Price a saved quote",
	Long: `Price a saved quote with the insurer product's configuration.

With --bus the request goes to a running "ratedesk serve" over the event
bus. Request/reply needs the NATS bus; the in-process channel bus cannot
reach another process.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), priceTimeout)
		defer cancel()

		req := pricing.QuoteRequest{InsurerID: insurerID, ProductID: productID, QuoteID: quoteID}
		if priceViaBus {
			return priceRemote(ctx, req)
		}

		client := newClient()
		master, closeFn, err := cachedMaster(client)
		if err != nil {
			return err
		}
		defer closeFn()

		quoter := &pricing.Quoter{
			Calc:      pricing.NewCalculator(rating.NewRegistry(nil)),
			Proposals: client,
			Ranges:    rating.NewService(client, nil),
			Options:   options.NewService(client, master),
			Clauses:   clauses.NewService(client),
			Master:    master,
		}
		q, err := quoter.Quote(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(q)
	},
}

func priceRemote(ctx context.Context, req pricing.QuoteRequest) error {
	b, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer b.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	raw, err := b.Request(ctx, req.InsurerID, domain.TopicQuotePrice, payload)
	if err != nil {
		return fmt.Errorf("price request: %w", err)
	}

	var reply worker.PriceReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return domain.NewError(domain.KindMalformed, "malformed price reply", err)
	}
	if reply.Error != "" {
		return domain.NewError(domain.ErrorKind(reply.Kind), reply.Error, nil)
	}
	return printJSON(reply.Quote)
}

// seed

// Fixture is the document read by "ratedesk seed".
type Fixture struct {
	MasterData map[string][]domain.MasterOption `yaml:"master_data"`
	Bundles    []struct {
		InsurerID string `yaml:"insurer_id"`
		// Bundle is decoded from JSON so the wire field names apply.
		Bundle map[string]any `yaml:"bundle"`
	} `yaml:"bundles"`
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load master data and quote bundles from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var fx Fixture
		if err := yaml.Unmarshal(data, &fx); err != nil {
			return fmt.Errorf("parse fixture: %w", err)
		}

		log := logging.Named("seed")
		client := newClient()
		ctx := cmd.Context()

		for kind, set := range fx.MasterData {
			if err := client.PutOptionSet(ctx, kind, set); err != nil {
				return fmt.Errorf("master data %s: %w", kind, err)
			}
			log.Infow("master data stored", "kind", kind, "options", len(set))
		}

		for i, b := range fx.Bundles {
			raw, err := json.Marshal(b.Bundle)
			if err != nil {
				return fmt.Errorf("bundle %d: %w", i, err)
			}
			var agg domain.ProposalAggregate
			if err := json.Unmarshal(raw, &agg); err != nil {
				return fmt.Errorf("bundle %d: %w", i, err)
			}
			if err := client.PutProposal(ctx, b.InsurerID, &agg); err != nil {
				return fmt.Errorf("bundle %s: %w", agg.QuoteID, err)
			}
			log.Infow("bundle stored", "insurer", b.InsurerID, "quote_id", agg.QuoteID)
		}
		return nil
	},
}

func init() {
	scopeFlags(evaluateCmd, true)
	evaluateCmd.Flags().StringVar(&evalDomain, "domain", "", "range domain, e.g. duration_loadings")
	evaluateCmd.Flags().Float64Var(&evalValue, "value", 0, "value to look up")
	evaluateCmd.Flags().StringVar(&evalBase, "base", "0", "base premium the adjustment applies to")
	evaluateCmd.MarkFlagRequired("domain")

	for _, c := range []*cobra.Command{projectCmd, resumeCmd} {
		scopeFlags(c, false)
		c.Flags().StringVar(&quoteID, "quote", "", "quote ID")
		c.MarkFlagRequired("quote")
	}

	scopeFlags(priceCmd, true)
	priceCmd.Flags().StringVar(&quoteID, "quote", "", "quote ID")
	priceCmd.MarkFlagRequired("quote")
	priceCmd.Flags().BoolVar(&priceViaBus, "bus", false, "ask a running server over the event bus")
	priceCmd.Flags().DurationVar(&priceTimeout, "timeout", 30*time.Second, "overall time limit")
}
