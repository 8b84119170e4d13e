package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig is the versioned pricing parameter set used by ledger
// computations. It is passed explicitly so credit math stays reproducible
// instead of reading ambient environment state.
type PricingConfig struct {
	Version int `mapstructure:"version"`

	// CostPerThousandCredits is the USD price of 1000 credits.
	CostPerThousandCredits float64 `mapstructure:"costPerThousandCredits"`

	// SearchCreditPercent derives the search pool from subscription credits.
	SearchCreditPercent float64 `mapstructure:"searchCreditPercent"`

	// CancelConversionPercent is the share of remaining subscription credits
	// converted to purchased credits on an immediate self-service cancel.
	// Failed-initial-payment cleanup converts 100% regardless.
	CancelConversionPercent float64 `mapstructure:"cancelConversionPercent"`

	CurrencyRates map[string]float64 `mapstructure:"currencyRates"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Version:                 1,
		CostPerThousandCredits:  5,
		SearchCreditPercent:     10,
		CancelConversionPercent: 20,
		CurrencyRates: map[string]float64{
			"USD": 1,
			"INR": 88.188049,
			"GBP": 0.74502,
			"EUR": 0.859295,
		},
	}
}

// SearchCreditsFor computes the search pool derived from a subscription grant.
func (c PricingConfig) SearchCreditsFor(subscriptionCredits int64) float64 {
	return float64(subscriptionCredits) * c.SearchCreditPercent / 100
}

// AmountMinorUnits converts a credit purchase to the smallest currency unit.
func (c PricingConfig) AmountMinorUnits(credits int64, currency string) (int64, bool) {
	rate, ok := c.CurrencyRates[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return 0, false
	}
	usd := float64(credits) * c.CostPerThousandCredits / 1000
	return int64(usd*rate*100 + 0.5), true
}

type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingHolder wraps a fixed config, used by tests.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	h := &PricingHolder{}
	h.current.Store(cfg)
	return h
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/searchleads")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SEARCHLEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("pricing.version", defaults.Version)
		v.SetDefault("pricing.costPerThousandCredits", defaults.CostPerThousandCredits)
		v.SetDefault("pricing.searchCreditPercent", defaults.SearchCreditPercent)
		v.SetDefault("pricing.cancelConversionPercent", defaults.CancelConversionPercent)
		v.SetDefault("pricing.currencyRates", defaults.CurrencyRates)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

func validatePricingConfig(cfg PricingConfig) error {
	if cfg.CostPerThousandCredits <= 0 {
		return errors.New("pricing.costPerThousandCredits must be positive")
	}
	if cfg.SearchCreditPercent < 0 || cfg.SearchCreditPercent > 100 {
		return errors.New("pricing.searchCreditPercent must be within [0, 100]")
	}
	if cfg.CancelConversionPercent < 0 || cfg.CancelConversionPercent > 100 {
		return errors.New("pricing.cancelConversionPercent must be within [0, 100]")
	}
	if len(cfg.CurrencyRates) == 0 {
		return errors.New("pricing.currencyRates cannot be empty")
	}
	return nil
}
