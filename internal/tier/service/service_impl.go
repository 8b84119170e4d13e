package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	tierdomain "github.com/searchleads/billing/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	cacheKeyCurrent  = "tiers:current"
	cacheKeyLastGood = "tiers:lastgood"
)

type Service struct {
	gateway  gateway.Gateway
	rdb      *redis.Client
	log      *zap.Logger
	cacheTTL time.Duration
	pattern  *regexp.Regexp
}

type Params struct {
	fx.In

	Gateway gateway.Gateway
	Redis   *redis.Client
	Log     *zap.Logger
	Cfg     config.Config
}

func NewService(p Params) tierdomain.Service {
	return &Service{
		gateway:  p.Gateway,
		rdb:      p.Redis,
		log:      p.Log.Named("tier.service"),
		cacheTTL: time.Duration(p.Cfg.TierCacheTTLSeconds) * time.Second,
		pattern:  regexp.MustCompile(`^` + regexp.QuoteMeta(p.Cfg.TierNamespace) + `_recurring_tier_(\d+)k$`),
	}
}

func (s *Service) GetTiers(ctx context.Context) (*tierdomain.Catalog, error) {
	if tiers, ok := s.readCache(ctx, cacheKeyCurrent); ok {
		return &tierdomain.Catalog{Tiers: tiers}, nil
	}

	tiers, err := s.discover(ctx)
	if err == nil {
		s.writeCache(ctx, tiers)
		return &tierdomain.Catalog{Tiers: tiers}, nil
	}

	// Provider unreachable. An expired-but-present last-good set beats an
	// empty answer; callers get a staleness flag instead of an error.
	if stale, ok := s.readCache(ctx, cacheKeyLastGood); ok {
		s.log.Warn("serving stale tier catalog", zap.Error(err))
		return &tierdomain.Catalog{Tiers: stale, Stale: true}, nil
	}

	s.log.Error("tier discovery failed with no fallback", zap.Error(err))
	return nil, tierdomain.ErrTierCatalogUnavailable
}

func (s *Service) Refresh(ctx context.Context) (*tierdomain.Catalog, error) {
	if err := s.rdb.Del(ctx, cacheKeyCurrent).Err(); err != nil {
		s.log.Warn("tier cache delete failed", zap.Error(err))
	}
	return s.GetTiers(ctx)
}

func (s *Service) FindTier(ctx context.Context, tierID string) (*tierdomain.Tier, error) {
	catalog, err := s.GetTiers(ctx)
	if err != nil {
		return nil, err
	}
	tier, ok := catalog.FindByID(tierID)
	if !ok {
		return nil, tierdomain.ErrTierNotFound
	}
	return tier, nil
}

// discover filters the provider price list down to the tier naming
// convention. Non-matching products are skipped without logging; the
// provider account carries unrelated prices.
func (s *Service) discover(ctx context.Context) ([]tierdomain.Tier, error) {
	prices, err := s.gateway.ListPrices(ctx)
	if err != nil {
		return nil, err
	}

	tiers := make([]tierdomain.Tier, 0, len(prices))
	for _, price := range prices {
		if !price.Active || !price.Recurring || price.Interval != "month" {
			continue
		}
		match := s.pattern.FindStringSubmatch(price.ProductName)
		if match == nil {
			continue
		}
		thousands, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}
		tiers = append(tiers, tierdomain.Tier{
			ID:               fmt.Sprintf("tier_%dk", thousands),
			DisplayName:      fmt.Sprintf("%dK Credits", thousands),
			BillingPriceID:   price.ID,
			CreditsGranted:   thousands * 1000,
			AmountMinorUnits: price.UnitAmount,
			Currency:         price.Currency,
		})
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].CreditsGranted < tiers[j].CreditsGranted
	})
	return tiers, nil
}

func (s *Service) readCache(ctx context.Context, key string) ([]tierdomain.Tier, bool) {
	value, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.log.Warn("tier cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var tiers []tierdomain.Tier
	if err := json.Unmarshal([]byte(value), &tiers); err != nil {
		s.log.Warn("tier cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return tiers, true
}

func (s *Service) writeCache(ctx context.Context, tiers []tierdomain.Tier) {
	encoded, err := json.Marshal(tiers)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKeyCurrent, encoded, s.cacheTTL).Err(); err != nil {
		s.log.Warn("tier cache write failed", zap.Error(err))
	}
	// The fallback copy never expires; it is only replaced by a newer
	// successful discovery.
	if err := s.rdb.Set(ctx, cacheKeyLastGood, encoded, 0).Err(); err != nil {
		s.log.Warn("tier fallback write failed", zap.Error(err))
	}
}
