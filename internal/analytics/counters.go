package analytics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/thenexusengine/adslot/internal/performance"
	redisclient "github.com/thenexusengine/adslot/pkg/redis"
)

const (
	adStatsPrefix       = "adstats:"
	campaignStatsPrefix = "campaignstats:"

	fieldImpressions = "impressions"
	fieldClicks      = "clicks"
	fieldConversions = "conversions"
	fieldSpend       = "spend"
	fieldRevenue     = "revenue"
)

// CounterStore keeps running per-ad and per-campaign totals in Redis hashes.
// It is a Sink, so delivered batches land here off the request path.
type CounterStore struct {
	client *redisclient.Client
}

// NewCounterStore creates a counter store on client
func NewCounterStore(client *redisclient.Client) *CounterStore {
	return &CounterStore{client: client}
}

// Apply increments counters for every event in one pipeline. Events with an
// unknown type or no ad id are skipped.
func (s *CounterStore) Apply(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range events {
			if e.AdID == "" || !e.Type.Valid() {
				continue
			}
			keys := []string{adStatsPrefix + e.AdID}
			if e.CampaignID != "" {
				keys = append(keys, campaignStatsPrefix+e.CampaignID)
			}
			for _, key := range keys {
				switch e.Type {
				case EventImpression:
					pipe.HIncrBy(ctx, key, fieldImpressions, 1)
				case EventClick:
					pipe.HIncrBy(ctx, key, fieldClicks, 1)
				case EventConversion:
					pipe.HIncrBy(ctx, key, fieldConversions, 1)
					if e.Amount > 0 {
						pipe.HIncrByFloat(ctx, key, fieldRevenue, e.Amount)
					}
				case EventSpend:
					if e.Amount > 0 {
						pipe.HIncrByFloat(ctx, key, fieldSpend, e.Amount)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("analytics: apply counters: %w", err)
	}
	return nil
}

// Counters returns the totals recorded for an ad. An ad with no events has
// zero counters.
func (s *CounterStore) Counters(ctx context.Context, adID string) (performance.Counters, error) {
	return s.read(ctx, adStatsPrefix+adID)
}

// CampaignCounters returns the totals recorded for a campaign
func (s *CounterStore) CampaignCounters(ctx context.Context, campaignID string) (performance.Counters, error) {
	return s.read(ctx, campaignStatsPrefix+campaignID)
}

func (s *CounterStore) read(ctx context.Context, key string) (performance.Counters, error) {
	var c performance.Counters
	fields, err := s.client.HGetAll(ctx, key)
	if err != nil {
		return c, fmt.Errorf("analytics: read %s: %w", key, err)
	}

	for name, dst := range map[string]*int64{
		fieldImpressions: &c.Impressions,
		fieldClicks:      &c.Clicks,
		fieldConversions: &c.Conversions,
	} {
		if v, ok := fields[name]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return c, fmt.Errorf("analytics: corrupt %s in %s: %w", name, key, err)
			}
			*dst = n
		}
	}
	for name, dst := range map[string]*float64{
		fieldSpend:   &c.Spend,
		fieldRevenue: &c.Revenue,
	} {
		if v, ok := fields[name]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return c, fmt.Errorf("analytics: corrupt %s in %s: %w", name, key, err)
			}
			*dst = f
		}
	}
	return c, nil
}
