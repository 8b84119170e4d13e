package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/internal/gateway"
	"github.com/searchleads/billing/internal/observability/metrics"
	subscriptiondomain "github.com/searchleads/billing/internal/subscription/domain"
	tierdomain "github.com/searchleads/billing/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     subscriptiondomain.Repository
	gateway  gateway.Gateway
	tiers    tierdomain.Service
	accounts accountdomain.Service
	metrics  *metrics.Metrics
	node     *snowflake.Node
	cfg      config.Config
	pricing  *config.PricingHolder

	cancelRetryDelay time.Duration
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     subscriptiondomain.Repository
	Gateway  gateway.Gateway
	Tiers    tierdomain.Service
	Accounts accountdomain.Service
	Metrics  *metrics.Metrics
	Node     *snowflake.Node
	Cfg      config.Config
	Pricing  *config.PricingHolder
}

func NewService(p Params) subscriptiondomain.Coordinator {
	return &Service{
		db:               p.DB,
		log:              p.Log.Named("subscription.service"),
		clock:            p.Clock,
		repo:             p.Repo,
		gateway:          p.Gateway,
		tiers:            p.Tiers,
		accounts:         p.Accounts,
		metrics:          p.Metrics,
		node:             p.Node,
		cfg:              p.Cfg,
		pricing:          p.Pricing,
		cancelRetryDelay: time.Duration(p.Cfg.CancelRetryDelaySeconds) * time.Second,
	}
}

func (s *Service) Status(ctx context.Context, userID string) (*subscriptiondomain.SubscriptionRecord, error) {
	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return record, nil
}

func (s *Service) RequestCreate(ctx context.Context, userID, customerID, tierID string) (*subscriptiondomain.CheckoutIntent, error) {
	tier, err := s.tiers.FindTier(ctx, tierID)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if record != nil && record.Status == subscriptiondomain.StatusActive {
		return nil, subscriptiondomain.ErrAlreadySubscribed
	}

	sub, err := s.gateway.CreateSubscription(ctx, gateway.CreateSubscriptionParams{
		CustomerID: customerID,
		PriceID:    tier.BillingPriceID,
		Metadata: map[string]string{
			gateway.MetadataUserID:  userID,
			gateway.MetadataTierID:  tier.ID,
			gateway.MetadataCredits: strconv.FormatInt(tier.CreditsGranted, 10),
		},
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if record == nil {
		record = &subscriptiondomain.SubscriptionRecord{
			UserID:    userID,
			Status:    subscriptiondomain.StatusNone,
			CreatedAt: now,
		}
		record.BillingCustomerID = customerID
		record.BillingSubscriptionID = sub.ID
		record.PlanTierID = tier.ID
		record.PlanCredits = tier.CreditsGranted
		record.UpdatedAt = now
		if err := s.repo.Insert(ctx, s.db, record); err != nil {
			return nil, err
		}
	} else {
		record.BillingCustomerID = customerID
		record.BillingSubscriptionID = sub.ID
		record.PlanTierID = tier.ID
		record.PlanCredits = tier.CreditsGranted
		record.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, record); err != nil {
			return nil, err
		}
	}

	s.log.Info("subscription requested",
		zap.String("user_id", userID),
		zap.String("tier_id", tier.ID),
		zap.String("subscription_id", sub.ID),
	)
	return checkoutIntentOf(sub), nil
}

func (s *Service) RequestUpgrade(ctx context.Context, userID, tierID string) (*subscriptiondomain.CheckoutIntent, error) {
	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Status != subscriptiondomain.StatusActive || record.BillingSubscriptionID == "" {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	if record.PlanTierID == tierID {
		return nil, subscriptiondomain.ErrSameTier
	}

	tier, err := s.tiers.FindTier(ctx, tierID)
	if err != nil {
		return nil, err
	}

	acquired, err := s.repo.AcquireUpgradeLock(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, subscriptiondomain.ErrUpgradeInProgress
	}

	sub, err := s.gateway.CreateSubscription(ctx, gateway.CreateSubscriptionParams{
		CustomerID: record.BillingCustomerID,
		PriceID:    tier.BillingPriceID,
		Metadata: map[string]string{
			gateway.MetadataUserID:      userID,
			gateway.MetadataTierID:      tier.ID,
			gateway.MetadataCredits:     strconv.FormatInt(tier.CreditsGranted, 10),
			gateway.MetadataUpgradeFrom: record.BillingSubscriptionID,
			gateway.MetadataIsUpgrade:   "true",
		},
	})
	if err != nil {
		// The lock only guards an in-flight replacement; nothing was
		// created, so hand it back immediately.
		if releaseErr := s.repo.ReleaseUpgradeLock(ctx, s.db, userID, s.clock.Now()); releaseErr != nil {
			s.log.Error("upgrade lock release failed", zap.String("user_id", userID), zap.Error(releaseErr))
		}
		return nil, err
	}

	s.log.Info("upgrade requested",
		zap.String("user_id", userID),
		zap.String("tier_id", tier.ID),
		zap.String("old_subscription_id", record.BillingSubscriptionID),
		zap.String("new_subscription_id", sub.ID),
	)
	return checkoutIntentOf(sub), nil
}

func (s *Service) RequestCancel(ctx context.Context, userID string) error {
	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if record == nil || record.BillingSubscriptionID == "" || record.Status != subscriptiondomain.StatusActive {
		return subscriptiondomain.ErrNoActiveSubscription
	}

	if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, record.BillingSubscriptionID, true); err != nil {
		return err
	}

	// Optimistic: the user sees the cancellation immediately; credits stay
	// untouched until the provider confirms with a deleted event.
	record.Status = subscriptiondomain.StatusCanceled
	record.CancelAtPeriodEnd = true
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	s.log.Info("cancellation scheduled",
		zap.String("user_id", userID),
		zap.String("subscription_id", record.BillingSubscriptionID),
	)
	return nil
}

func (s *Service) Resume(ctx context.Context, userID string) error {
	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if record == nil || record.BillingSubscriptionID == "" {
		return subscriptiondomain.ErrNoActiveSubscription
	}

	if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, record.BillingSubscriptionID, false); err != nil {
		return err
	}

	record.CancelAtPeriodEnd = false
	record.Status = subscriptiondomain.StatusActive
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	s.log.Info("subscription resumed",
		zap.String("user_id", userID),
		zap.String("subscription_id", record.BillingSubscriptionID),
	)
	return nil
}

func (s *Service) ConfirmCreate(ctx context.Context, sub *gateway.Subscription) error {
	userID := sub.Metadata[gateway.MetadataUserID]
	if userID == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	credits := metadataCredits(sub.Metadata)
	now := s.clock.Now()

	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	isNew := record == nil
	if isNew {
		record = &subscriptiondomain.SubscriptionRecord{UserID: userID, CreatedAt: now}
	}

	record.BillingCustomerID = sub.CustomerID
	record.BillingSubscriptionID = sub.ID
	record.Status = subscriptiondomain.StatusActive
	record.PlanTierID = sub.Metadata[gateway.MetadataTierID]
	record.PlanCredits = credits
	record.CurrentPeriodEnd = sub.CurrentPeriodEnd
	record.CancelAtPeriodEnd = false
	record.Metadata = metadataSnapshot(sub.Metadata)
	record.UpdatedAt = now

	if isNew {
		err = s.repo.Insert(ctx, s.db, record)
	} else {
		err = s.repo.Update(ctx, s.db, record)
	}
	if err != nil {
		return err
	}

	if _, err := s.accounts.GrantSubscriptionCredits(ctx, userID, credits); err != nil {
		return err
	}

	s.log.Info("subscription confirmed",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ID),
		zap.Int64("credits", credits),
	)
	return nil
}

func (s *Service) ConfirmUpgrade(ctx context.Context, sub *gateway.Subscription) error {
	userID := sub.Metadata[gateway.MetadataUserID]
	oldSubscriptionID := sub.Metadata[gateway.MetadataUpgradeFrom]
	if userID == "" || oldSubscriptionID == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	credits := metadataCredits(sub.Metadata)

	if err := s.cancelWithRetry(ctx, oldSubscriptionID); err != nil {
		// The replacement is paid but the old subscription is still live:
		// the user is double-billed until an operator intervenes. The lock
		// stays held so no further upgrade stacks on top; the stale-lock
		// sweep frees it eventually.
		s.metrics.RecordUpgradeCancelFailure()
		s.log.Error("old subscription cancellation exhausted retries",
			zap.String("user_id", userID),
			zap.String("old_subscription_id", oldSubscriptionID),
			zap.String("new_subscription_id", sub.ID),
			zap.Error(err),
		)
		return subscriptiondomain.ErrUpgradeCancelExhausted
	}

	now := s.clock.Now()
	record, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if record == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	record.BillingSubscriptionID = sub.ID
	record.Status = subscriptiondomain.StatusActive
	record.PlanTierID = sub.Metadata[gateway.MetadataTierID]
	record.PlanCredits = credits
	record.CurrentPeriodEnd = sub.CurrentPeriodEnd
	record.CancelAtPeriodEnd = false
	record.Metadata = metadataSnapshot(sub.Metadata)
	record.UpgradeLocked = false
	record.UpgradeLockedAt = nil
	record.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	if _, err := s.accounts.GrantSubscriptionCredits(ctx, userID, credits); err != nil {
		return err
	}

	s.log.Info("upgrade confirmed",
		zap.String("user_id", userID),
		zap.String("old_subscription_id", oldSubscriptionID),
		zap.String("new_subscription_id", sub.ID),
		zap.Int64("credits", credits),
	)
	return nil
}

func (s *Service) ConfirmCancel(ctx context.Context, subscriptionID string) error {
	record, err := s.repo.FindByBillingSubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if record == nil {
		// Deletion of a subscription we already replaced; the upgrade path
		// cancelled it on purpose.
		s.log.Debug("deletion for non-current subscription ignored",
			zap.String("subscription_id", subscriptionID),
		)
		return nil
	}

	// Terminal cancellation: null the subscription identifiers so a late
	// renewal invoice for the dead id cannot match this record and re-grant.
	record.Status = subscriptiondomain.StatusCanceled
	record.BillingSubscriptionID = ""
	record.PlanTierID = ""
	record.PlanCredits = 0
	record.CurrentPeriodEnd = time.Time{}
	record.CancelAtPeriodEnd = false
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	if _, err := s.accounts.ConvertSubscriptionToPurchased(ctx, record.UserID, s.pricing.Get().CancelConversionPercent); err != nil {
		if !errors.Is(err, accountdomain.ErrAccountNotFound) {
			return err
		}
	}

	s.log.Info("cancellation confirmed",
		zap.String("user_id", record.UserID),
		zap.String("subscription_id", subscriptionID),
	)
	return nil
}

func (s *Service) GrantCycle(ctx context.Context, subscriptionID string) error {
	record, err := s.repo.FindByBillingSubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if record == nil {
		s.log.Warn("renewal for unknown subscription", zap.String("subscription_id", subscriptionID))
		return nil
	}

	// A paid renewal clears a past_due state.
	record.Status = subscriptiondomain.StatusActive
	if sub, err := s.gateway.RetrieveSubscription(ctx, subscriptionID); err == nil {
		record.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	if _, err := s.accounts.GrantSubscriptionCredits(ctx, record.UserID, record.PlanCredits); err != nil {
		return err
	}

	s.log.Info("renewal credits granted",
		zap.String("user_id", record.UserID),
		zap.String("subscription_id", subscriptionID),
		zap.Int64("credits", record.PlanCredits),
	)
	return nil
}

func (s *Service) AbortUpgrade(ctx context.Context, sub *gateway.Subscription) error {
	userID := sub.Metadata[gateway.MetadataUserID]
	if userID == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	// Best effort; an incomplete subscription expires on the provider side
	// anyway.
	if err := s.gateway.CancelSubscription(ctx, sub.ID); err != nil && !errors.Is(err, gateway.ErrSubscriptionNotFound) {
		s.log.Warn("replacement subscription cleanup failed",
			zap.String("subscription_id", sub.ID),
			zap.Error(err),
		)
	}

	if err := s.repo.ReleaseUpgradeLock(ctx, s.db, userID, s.clock.Now()); err != nil {
		return err
	}

	s.log.Info("upgrade aborted",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.ID),
	)
	return nil
}

func (s *Service) MarkPastDue(ctx context.Context, subscriptionID string) error {
	record, err := s.repo.FindByBillingSubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	record.Status = subscriptiondomain.StatusPastDue
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	s.log.Warn("subscription past due",
		zap.String("user_id", record.UserID),
		zap.String("subscription_id", subscriptionID),
	)
	return nil
}

func (s *Service) CleanupFailedInitial(ctx context.Context, subscriptionID string) error {
	record, err := s.repo.FindByBillingSubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	if err := s.gateway.CancelSubscription(ctx, subscriptionID); err != nil && !errors.Is(err, gateway.ErrSubscriptionNotFound) {
		s.log.Warn("failed-initial subscription cleanup failed",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err),
		)
	}

	record.Status = subscriptiondomain.StatusNone
	record.BillingSubscriptionID = ""
	record.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, record); err != nil {
		return err
	}

	// Whatever subscription credits the user still carries come from an
	// earlier plan; keep their full value in the non-expiring pool.
	if _, err := s.accounts.ConvertSubscriptionToPurchased(ctx, record.UserID, 100); err != nil {
		if !errors.Is(err, accountdomain.ErrAccountNotFound) {
			return err
		}
	}

	s.log.Info("failed initial subscription cleaned up",
		zap.String("user_id", record.UserID),
		zap.String("subscription_id", subscriptionID),
	)
	return nil
}

func (s *Service) StorePendingUpgrade(ctx context.Context, userID, subscriptionID, tierID string, credits int64) error {
	now := s.clock.Now()
	upgrade := &subscriptiondomain.PendingUpgrade{
		ID:             s.node.Generate(),
		UserID:         userID,
		SubscriptionID: subscriptionID,
		TargetTierID:   tierID,
		TargetCredits:  credits,
		ExpiresAt:      now.Add(time.Duration(s.cfg.PendingUpgradeTTLSeconds) * time.Second),
		CreatedAt:      now,
	}
	if err := s.repo.SavePendingUpgrade(ctx, s.db, upgrade); err != nil {
		return err
	}

	s.log.Info("pending upgrade stored",
		zap.String("user_id", userID),
		zap.String("subscription_id", subscriptionID),
		zap.String("tier_id", tierID),
	)
	return nil
}

func (s *Service) ConfirmLegacyUpgrade(ctx context.Context, subscriptionID string) error {
	upgrade, err := s.repo.FindPendingUpgrade(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if upgrade == nil {
		return subscriptiondomain.ErrPendingUpgradeNotFound
	}

	now := s.clock.Now()
	if !upgrade.ExpiresAt.After(now) {
		if err := s.repo.DeletePendingUpgrade(ctx, s.db, upgrade.ID); err != nil {
			return err
		}
		return subscriptiondomain.ErrPendingUpgradeNotFound
	}

	record, err := s.repo.FindByBillingSubscriptionID(ctx, s.db, subscriptionID)
	if err != nil {
		return err
	}
	if record != nil {
		record.Status = subscriptiondomain.StatusActive
		record.PlanTierID = upgrade.TargetTierID
		record.PlanCredits = upgrade.TargetCredits
		record.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, record); err != nil {
			return err
		}
	}

	if _, err := s.accounts.GrantSubscriptionCredits(ctx, upgrade.UserID, upgrade.TargetCredits); err != nil {
		return err
	}
	if err := s.repo.DeletePendingUpgrade(ctx, s.db, upgrade.ID); err != nil {
		return err
	}

	s.log.Info("legacy upgrade confirmed",
		zap.String("user_id", upgrade.UserID),
		zap.String("subscription_id", subscriptionID),
		zap.Int64("credits", upgrade.TargetCredits),
	)
	return nil
}

func (s *Service) SweepExpiredPendingUpgrades(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredPendingUpgrades(ctx, s.db, s.clock.Now())
}

func (s *Service) SweepStaleLocks(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(s.cfg.UpgradeLockLeaseSeconds) * time.Second)
	return s.repo.ReleaseStaleLocks(ctx, s.db, cutoff, now)
}

func (s *Service) cancelWithRetry(ctx context.Context, subscriptionID string) error {
	attempts := s.cfg.CancelRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.gateway.CancelSubscription(ctx, subscriptionID)
		if err == nil || errors.Is(err, gateway.ErrSubscriptionNotFound) {
			return nil
		}
		lastErr = err
		s.log.Warn("old subscription cancellation failed",
			zap.String("subscription_id", subscriptionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cancelRetryDelay):
		}
	}
	return lastErr
}

func metadataCredits(metadata map[string]string) int64 {
	credits, err := strconv.ParseInt(metadata[gateway.MetadataCredits], 10, 64)
	if err != nil {
		return 0
	}
	return credits
}

func metadataSnapshot(metadata map[string]string) datatypes.JSONMap {
	snapshot := datatypes.JSONMap{}
	for key, value := range metadata {
		snapshot[key] = value
	}
	return snapshot
}

func checkoutIntentOf(sub *gateway.Subscription) *subscriptiondomain.CheckoutIntent {
	intent := &subscriptiondomain.CheckoutIntent{SubscriptionID: sub.ID}
	if sub.LatestInvoice != nil {
		intent.InvoiceID = sub.LatestInvoice.ID
		intent.PaymentIntentID = sub.LatestInvoice.PaymentIntentID
		intent.ClientSecret = sub.LatestInvoice.ClientSecret
		intent.AmountDue = sub.LatestInvoice.AmountDue
	}
	return intent
}
