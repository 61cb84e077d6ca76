// Package config loads venue and simulation configuration from YAML files
// and environment variables.
package config

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	cerr "github.com/quantfold/backsim/common/errors"
	"github.com/quantfold/backsim/internal/account"
	"github.com/quantfold/backsim/internal/exchange"
	"github.com/quantfold/backsim/internal/model"
	"github.com/quantfold/backsim/internal/simmodels"
)

// VenueConfig describes one simulated venue.
type VenueConfig struct {
	VenueID     string `mapstructure:"venue_id"`
	OmsType     string `mapstructure:"oms_type"`
	AccountType string `mapstructure:"account_type"`
	BookType    string `mapstructure:"book_type"`

	StartingBalances []BalanceConfig `mapstructure:"starting_balances"`

	RejectStopOrders             bool `mapstructure:"reject_stop_orders"`
	PreserveTimePriorityOnModify bool `mapstructure:"preserve_time_priority_on_modify"`
	UseQuoteForInverse           bool `mapstructure:"use_quote_for_inverse"`
	BypassRiskChecks             bool `mapstructure:"bypass_risk_checks"`

	DefaultLeverage float64            `mapstructure:"default_leverage"`
	Leverages       map[string]float64 `mapstructure:"leverages"`

	FillModel    FillModelConfig    `mapstructure:"fill_model"`
	FeeModel     FeeModelConfig     `mapstructure:"fee_model"`
	LatencyModel LatencyModelConfig `mapstructure:"latency_model"`
	MarginModel  string             `mapstructure:"margin_model"` // standard | leveraged

	Instruments []InstrumentConfig `mapstructure:"instruments"`
}

// InstrumentConfig defines one tradable contract.
type InstrumentConfig struct {
	ID                 string  `mapstructure:"id"`
	BaseCurrency       string  `mapstructure:"base_currency"`
	QuoteCurrency      string  `mapstructure:"quote_currency"`
	SettlementCurrency string  `mapstructure:"settlement_currency"`
	PricePrecision     int32   `mapstructure:"price_precision"`
	SizePrecision      int32   `mapstructure:"size_precision"`
	PriceIncrement     float64 `mapstructure:"price_increment"`
	LotSize            float64 `mapstructure:"lot_size"`
	Multiplier         float64 `mapstructure:"multiplier"`
	MarginInit         float64 `mapstructure:"margin_init"`
	MarginMaint        float64 `mapstructure:"margin_maint"`
	MakerFee           float64 `mapstructure:"maker_fee"`
	TakerFee           float64 `mapstructure:"taker_fee"`
	IsInverse          bool    `mapstructure:"is_inverse"`
	ActivationNs       int64   `mapstructure:"activation_ns"`
	ExpirationNs       int64   `mapstructure:"expiration_ns"`
}

// Instrument converts the definition into the model type.
func (ic *InstrumentConfig) Instrument() *model.Instrument {
	settlement := ic.SettlementCurrency
	if settlement == "" {
		settlement = ic.QuoteCurrency
	}
	return &model.Instrument{
		ID:                 ic.ID,
		BaseCurrency:       ic.BaseCurrency,
		QuoteCurrency:      ic.QuoteCurrency,
		SettlementCurrency: settlement,
		PricePrecision:     ic.PricePrecision,
		SizePrecision:      ic.SizePrecision,
		PriceIncrement:     decimal.NewFromFloat(ic.PriceIncrement),
		LotSize:            decimal.NewFromFloat(ic.LotSize),
		Multiplier:         decimal.NewFromFloat(ic.Multiplier),
		MarginInit:         decimal.NewFromFloat(ic.MarginInit),
		MarginMaint:        decimal.NewFromFloat(ic.MarginMaint),
		MakerFee:           decimal.NewFromFloat(ic.MakerFee),
		TakerFee:           decimal.NewFromFloat(ic.TakerFee),
		IsInverse:          ic.IsInverse,
		ActivationNs:       ic.ActivationNs,
		ExpirationNs:       ic.ExpirationNs,
	}
}

// BalanceConfig is one starting balance line.
type BalanceConfig struct {
	Currency string  `mapstructure:"currency"`
	Amount   float64 `mapstructure:"amount"`
}

// FillModelConfig selects and parameterizes the fill model.
type FillModelConfig struct {
	// Kind: probabilistic | best_price | one_tick_slippage | two_tier |
	// size_aware.
	Kind            string  `mapstructure:"kind"`
	ProbFillOnLimit float64 `mapstructure:"prob_fill_on_limit"`
	ProbFillOnStop  float64 `mapstructure:"prob_fill_on_stop"`
	ProbSlippage    float64 `mapstructure:"prob_slippage"`
	Seed            int64   `mapstructure:"seed"`
	TierSize        float64 `mapstructure:"tier_size"`
	Threshold       float64 `mapstructure:"threshold"`
}

// FeeModelConfig selects the fee model.
type FeeModelConfig struct {
	// Kind: maker_taker | fixed | per_contract.
	Kind     string  `mapstructure:"kind"`
	Amount   float64 `mapstructure:"amount"`
	Currency string  `mapstructure:"currency"`
}

// LatencyModelConfig sets simulated command latencies in nanoseconds.
type LatencyModelConfig struct {
	BaseNs   int64 `mapstructure:"base_ns"`
	InsertNs int64 `mapstructure:"insert_ns"`
	UpdateNs int64 `mapstructure:"update_ns"`
	CancelNs int64 `mapstructure:"cancel_ns"`
}

// Load reads a venue configuration from the given YAML file, layering
// BACKSIM_* environment variables on top.
func Load(path string, logger *zap.Logger) (*VenueConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("BACKSIM")

	v.SetDefault("oms_type", model.OmsNetting)
	v.SetDefault("account_type", model.AccountTypeMargin)
	v.SetDefault("book_type", model.BookTypeL1)
	v.SetDefault("reject_stop_orders", true)
	v.SetDefault("default_leverage", 1.0)
	v.SetDefault("fill_model.kind", "probabilistic")
	v.SetDefault("fill_model.prob_fill_on_limit", 1.0)
	v.SetDefault("fill_model.prob_fill_on_stop", 1.0)
	v.SetDefault("fee_model.kind", "maker_taker")
	v.SetDefault("margin_model", "standard")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, cerr.NewConfigError("config", "reading %s: %v", path, err)
		}
		logger.Info("loaded venue configuration", zap.String("path", path))
	}

	var cfg VenueConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, cerr.NewConfigError("config", "unmarshal: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for fatal mistakes.
func (c *VenueConfig) Validate() error {
	if c.VenueID == "" {
		return cerr.NewConfigError("config", "venue_id must not be empty")
	}
	if len(c.StartingBalances) == 0 {
		return cerr.NewConfigError("config", "at least one starting balance required")
	}
	for _, b := range c.StartingBalances {
		if b.Currency == "" || b.Amount <= 0 {
			return cerr.NewConfigError("config",
				"starting balance needs a currency and positive amount, got %q %v", b.Currency, b.Amount)
		}
	}
	switch c.MarginModel {
	case "", "standard", "leveraged":
	default:
		return cerr.NewConfigError("config", "unknown margin_model %q", c.MarginModel)
	}
	return nil
}

// Build assembles exchange options from the configuration.
func (c *VenueConfig) Build(logger *zap.Logger) (exchange.Options, error) {
	fillModel, err := c.buildFillModel()
	if err != nil {
		return exchange.Options{}, err
	}
	feeModel, err := c.buildFeeModel()
	if err != nil {
		return exchange.Options{}, err
	}

	var marginModel account.MarginModel = account.StandardMarginModel{}
	if c.MarginModel == "leveraged" {
		marginModel = account.LeveragedMarginModel{}
	}

	balances := make([]model.Money, 0, len(c.StartingBalances))
	for _, b := range c.StartingBalances {
		balances = append(balances, model.NewMoney(decimal.NewFromFloat(b.Amount), b.Currency))
	}
	leverages := make(map[string]decimal.Decimal, len(c.Leverages))
	for id, lev := range c.Leverages {
		leverages[id] = decimal.NewFromFloat(lev)
	}

	return exchange.Options{
		VenueID:          c.VenueID,
		OmsType:          c.OmsType,
		AccountType:      c.AccountType,
		StartingBalances: balances,
		BookType:         c.BookType,

		RejectStopOrders:             c.RejectStopOrders,
		PreserveTimePriorityOnModify: c.PreserveTimePriorityOnModify,
		UseQuoteForInverse:           c.UseQuoteForInverse,
		BypassRiskChecks:             c.BypassRiskChecks,

		DefaultLeverage: decimal.NewFromFloat(c.DefaultLeverage),
		Leverages:       leverages,

		FillModel:    fillModel,
		FeeModel:     feeModel,
		LatencyModel: simmodels.NewLatencyModel(c.LatencyModel.BaseNs, c.LatencyModel.InsertNs, c.LatencyModel.UpdateNs, c.LatencyModel.CancelNs),
		MarginModel:  marginModel,

		Logger: logger,
	}, nil
}

func (c *VenueConfig) buildFillModel() (simmodels.FillModel, error) {
	fm := c.FillModel
	switch fm.Kind {
	case "", "probabilistic":
		m, err := simmodels.NewProbFillModel(fm.ProbFillOnLimit, fm.ProbFillOnStop, fm.ProbSlippage, fm.Seed)
		if err != nil {
			return nil, cerr.NewConfigError("config", "fill_model: %v", err)
		}
		return m, nil
	case "best_price":
		return simmodels.NewBestPriceFillModel(), nil
	case "one_tick_slippage":
		return simmodels.NewOneTickSlippageFillModel(), nil
	case "two_tier":
		if fm.TierSize <= 0 {
			return nil, cerr.NewConfigError("config", "fill_model.tier_size must be positive")
		}
		return simmodels.NewTwoTierFillModel(decimal.NewFromFloat(fm.TierSize)), nil
	case "size_aware":
		if fm.Threshold <= 0 {
			return nil, cerr.NewConfigError("config", "fill_model.threshold must be positive")
		}
		return simmodels.NewSizeAwareFillModel(decimal.NewFromFloat(fm.Threshold)), nil
	default:
		return nil, cerr.NewConfigError("config", "unknown fill_model.kind %q", fm.Kind)
	}
}

func (c *VenueConfig) buildFeeModel() (simmodels.FeeModel, error) {
	fm := c.FeeModel
	switch fm.Kind {
	case "", "maker_taker":
		return simmodels.NewMakerTakerFeeModel(), nil
	case "fixed":
		if fm.Currency == "" {
			return nil, cerr.NewConfigError("config", "fee_model.currency required for fixed fees")
		}
		return simmodels.NewFixedFeeModel(model.NewMoney(decimal.NewFromFloat(fm.Amount), fm.Currency)), nil
	case "per_contract":
		if fm.Currency == "" {
			return nil, cerr.NewConfigError("config", "fee_model.currency required for per-contract fees")
		}
		return simmodels.NewPerContractFeeModel(model.NewMoney(decimal.NewFromFloat(fm.Amount), fm.Currency)), nil
	default:
		return nil, cerr.NewConfigError("config", "unknown fee_model.kind %q", fm.Kind)
	}
}
