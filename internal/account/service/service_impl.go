package service

import (
	"context"
	"strings"

	accountdomain "github.com/searchleads/billing/internal/account/domain"
	"github.com/searchleads/billing/internal/clock"
	"github.com/searchleads/billing/internal/config"
	"github.com/searchleads/billing/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// casRetries bounds the optimistic-locking retry loop for one operation.
const casRetries = 5

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    accountdomain.Repository
	cfg     config.Config
	pricing *config.PricingHolder
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    accountdomain.Repository
	Cfg     config.Config
	Pricing *config.PricingHolder
}

func NewService(p Params) accountdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("account.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		cfg:     p.Cfg,
		pricing: p.Pricing,
	}
}

func (s *Service) CreateAccount(ctx context.Context, userID string) (*accountdomain.CreditAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, accountdomain.ErrAccountNotFound
	}

	now := s.clock.Now()
	account := &accountdomain.CreditAccount{
		UserID:           userID,
		PurchasedCredits: s.cfg.RegistrationCredits,
		SearchCredits:    s.cfg.RegistrationSearchCredits,
		TotalBought:      s.cfg.RegistrationCredits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, accountdomain.ErrAccountExists
		}
		return nil, err
	}

	s.log.Info("credit account created",
		zap.String("user_id", userID),
		zap.Int64("registration_credits", s.cfg.RegistrationCredits),
	)
	return account, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*accountdomain.CreditAccount, error) {
	account, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) GetBalances(ctx context.Context, userID string) (accountdomain.Balances, error) {
	account, err := s.Get(ctx, userID)
	if err != nil {
		return accountdomain.Balances{}, err
	}
	return balancesOf(account), nil
}

func (s *Service) Deduct(ctx context.Context, userID string, amount int64, pool accountdomain.Pool) (accountdomain.Balances, error) {
	if amount <= 0 {
		return accountdomain.Balances{}, accountdomain.ErrInvalidAmount
	}

	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		return deductFrom(acc, amount, pool)
	})
	if err != nil {
		return accountdomain.Balances{}, err
	}
	return balancesOf(account), nil
}

func (s *Service) Reserve(ctx context.Context, userID, logID string, amount int64) (accountdomain.Balances, error) {
	if amount <= 0 {
		return accountdomain.Balances{}, accountdomain.ErrInvalidAmount
	}
	logID = strings.TrimSpace(logID)
	if logID == "" {
		return accountdomain.Balances{}, accountdomain.ErrUsageLogNotFound
	}

	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		if err := deductFrom(acc, amount, accountdomain.PoolCombined); err != nil {
			return err
		}
		now := s.clock.Now()
		return s.repo.InsertUsageLog(ctx, tx, &accountdomain.UsageLog{
			LogID:           logID,
			UserID:          userID,
			CreditsReserved: amount,
			Status:          accountdomain.UsageStatusReserved,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	})
	if err != nil {
		return accountdomain.Balances{}, err
	}

	s.log.Info("credits reserved",
		zap.String("user_id", userID),
		zap.String("log_id", logID),
		zap.Int64("amount", amount),
	)
	return balancesOf(account), nil
}

func (s *Service) Refund(ctx context.Context, userID, logID string, actualUsed int64) (*accountdomain.RefundResult, error) {
	if actualUsed < 0 {
		return nil, accountdomain.ErrInvalidAmount
	}

	var refunded int64
	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		usageLog, err := s.repo.FindUsageLog(ctx, tx, logID)
		if err != nil {
			return err
		}
		if usageLog == nil {
			return accountdomain.ErrUsageLogNotFound
		}
		if usageLog.UserID != userID {
			return accountdomain.ErrUsageLogNotFound
		}

		// The refund is a pure function of the reservation, never of the
		// live balance; the refunded marker guards double invocation.
		flipped, err := s.repo.MarkUsageRefunded(ctx, tx, logID, actualUsed, s.clock.Now())
		if err != nil {
			return err
		}
		if !flipped {
			return accountdomain.ErrRefundAlreadyApplied
		}

		refunded = accountdomain.RefundAmount(usageLog.CreditsReserved, actualUsed)
		// Refunds land in the non-expiring pool: the reservation may have
		// outlived its subscription period.
		acc.PurchasedCredits += refunded
		acc.TotalBought += refunded
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("usage refunded",
		zap.String("user_id", userID),
		zap.String("log_id", logID),
		zap.Int64("refunded", refunded),
	)
	return &accountdomain.RefundResult{
		LogID:    logID,
		Refunded: refunded,
		Balances: balancesOf(account),
	}, nil
}

func (s *Service) GrantSubscriptionCredits(ctx context.Context, userID string, amount int64) (accountdomain.Balances, error) {
	if amount < 0 {
		return accountdomain.Balances{}, accountdomain.ErrInvalidAmount
	}

	pricing := s.pricing.Get()
	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		acc.SubscriptionCredits = amount
		acc.SearchCredits = pricing.SearchCreditsFor(amount)
		acc.TotalBought += amount
		return nil
	})
	if err != nil {
		return accountdomain.Balances{}, err
	}

	s.log.Info("subscription credits granted",
		zap.String("user_id", userID),
		zap.Int64("amount", amount),
	)
	return balancesOf(account), nil
}

func (s *Service) AddPurchasedCredits(ctx context.Context, userID string, amount int64, searchAmount float64) (accountdomain.Balances, error) {
	if amount <= 0 || searchAmount < 0 {
		return accountdomain.Balances{}, accountdomain.ErrInvalidAmount
	}

	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		acc.PurchasedCredits += amount
		acc.SearchCredits += searchAmount
		acc.TotalBought += amount
		return nil
	})
	if err != nil {
		return accountdomain.Balances{}, err
	}
	return balancesOf(account), nil
}

func (s *Service) ExpireSubscriptionCredits(ctx context.Context, userID string) (accountdomain.Balances, error) {
	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		acc.SubscriptionCredits = 0
		return nil
	})
	if err != nil {
		return accountdomain.Balances{}, err
	}
	return balancesOf(account), nil
}

func (s *Service) ConvertSubscriptionToPurchased(ctx context.Context, userID string, percent float64) (accountdomain.Balances, error) {
	if percent < 0 || percent > 100 {
		return accountdomain.Balances{}, accountdomain.ErrInvalidAmount
	}

	var converted int64
	account, err := s.mutate(ctx, userID, func(tx *gorm.DB, acc *accountdomain.CreditAccount) error {
		converted = int64(float64(acc.SubscriptionCredits) * percent / 100)
		acc.PurchasedCredits += converted
		acc.SubscriptionCredits = 0
		return nil
	})
	if err != nil {
		return accountdomain.Balances{}, err
	}

	s.log.Info("subscription credits converted",
		zap.String("user_id", userID),
		zap.Float64("percent", percent),
		zap.Int64("converted", converted),
	)
	return balancesOf(account), nil
}

// mutate runs fn inside a transaction under a version compare-and-set,
// retrying when a concurrent writer wins the race.
func (s *Service) mutate(ctx context.Context, userID string, fn func(tx *gorm.DB, acc *accountdomain.CreditAccount) error) (*accountdomain.CreditAccount, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		var out *accountdomain.CreditAccount
		conflicted := false

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			acc, err := s.repo.FindByUserID(ctx, tx, userID)
			if err != nil {
				return err
			}
			if acc == nil {
				return accountdomain.ErrAccountNotFound
			}

			expected := acc.Version
			if err := fn(tx, acc); err != nil {
				return err
			}
			if err := checkInvariants(acc); err != nil {
				return err
			}

			acc.Version = expected + 1
			acc.UpdatedAt = s.clock.Now()
			ok, err := s.repo.UpdateVersioned(ctx, tx, acc, expected)
			if err != nil {
				return err
			}
			if !ok {
				conflicted = true
				return accountdomain.ErrConcurrentUpdate
			}
			out = acc
			return nil
		})
		if err == nil {
			return out, nil
		}
		if conflicted {
			continue
		}
		return nil, err
	}
	return nil, accountdomain.ErrConcurrentUpdate
}

func deductFrom(acc *accountdomain.CreditAccount, amount int64, pool accountdomain.Pool) error {
	switch pool {
	case accountdomain.PoolCombined:
		split, shortfall := accountdomain.SplitDeduction(acc.SubscriptionCredits, acc.PurchasedCredits, amount)
		if shortfall > 0 {
			return &accountdomain.InsufficientCreditsError{
				Pool:      pool,
				Requested: amount,
				Available: acc.TotalCredits(),
				Shortfall: shortfall,
			}
		}
		acc.SubscriptionCredits -= split.FromSubscription
		acc.PurchasedCredits -= split.FromPurchased
		acc.TotalUsed += amount
		return nil
	case accountdomain.PoolSearch:
		if acc.SearchCredits < float64(amount) {
			return &accountdomain.InsufficientCreditsError{
				Pool:      pool,
				Requested: amount,
				Available: int64(acc.SearchCredits),
				Shortfall: amount - int64(acc.SearchCredits),
			}
		}
		acc.SearchCredits -= float64(amount)
		acc.TotalSearchUsed += float64(amount)
		return nil
	default:
		return accountdomain.ErrInvalidAmount
	}
}

func checkInvariants(acc *accountdomain.CreditAccount) error {
	if acc.PurchasedCredits < 0 || acc.SubscriptionCredits < 0 || acc.SearchCredits < 0 {
		return accountdomain.ErrNegativeBalance
	}
	return nil
}

func balancesOf(acc *accountdomain.CreditAccount) accountdomain.Balances {
	return accountdomain.Balances{
		SubscriptionCredits: acc.SubscriptionCredits,
		PurchasedCredits:    acc.PurchasedCredits,
		SearchCredits:       acc.SearchCredits,
		TotalCredits:        acc.TotalCredits(),
	}
}
