// Package config loads simulation settings from YAML files, .env files and
// ADSIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dimdimlv/mt-project/core"
)

// Mechanism names accepted in auction.mechanism.
const (
	MechanismFirstPrice  = "first_price"
	MechanismSecondPrice = "second_price"
)

// Allocator kinds accepted in agents[].allocator.kind.
const (
	AllocatorOracle      = "oracle"
	AllocatorNoisyOracle = "noisy_oracle"
	AllocatorProjected   = "projected"
	AllocatorStatic      = "static"
)

// Bidder kinds accepted in agents[].bidder.kind.
const (
	BidderTruthful = "truthful"
	BidderShaded   = "shaded"
	BidderAdaptive = "adaptive"
)

// DefaultSeed is the seed used when neither the file nor ADSIM_SEED sets one.
const DefaultSeed uint64 = 1

// Defaults used by Default().
const (
	DefaultIterations                = 5
	DefaultRoundsPerIteration        = 1000
	DefaultMaxSlots                  = 3
	DefaultEmbeddingSize             = 5
	DefaultEmbeddingVar              = 1.0
	DefaultObsEmbeddingSize          = 4
	DefaultNumParticipantsPerRound   = 3
	DefaultFixedCVR                  = 0.1
	DefaultSalesRevenuePerConversion = 10.0
	DefaultNumItems                  = 12
	DefaultValueMu                   = 0.1
	DefaultValueSigma                = 0.2
	DefaultNoiseStd                  = 0.1
	DefaultShadingFactor             = 0.8
	DefaultLogLevel                  = "info"
)

// Config contains every setting of one simulation run.
type Config struct {
	// Seed drives every random draw of the run.
	Seed uint64 `json:"seed" yaml:"seed"`

	Iterations         int `json:"iterations" yaml:"iterations" validate:"min=1"`
	RoundsPerIteration int `json:"rounds_per_iteration" yaml:"rounds_per_iteration" validate:"min=1"`

	Auction AuctionConfig `json:"auction" yaml:"auction"`
	Agents  []AgentConfig `json:"agents" yaml:"agents" validate:"min=1,dive"`

	// ShadingFactors overrides the factor of shaded bidders by agent name.
	// The "default" key applies to agents without their own entry.
	ShadingFactors map[string]float64 `json:"shading_factors,omitempty" yaml:"shading_factors,omitempty" validate:"omitempty,dive,gt=0,lte=1"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// AuctionConfig configures the mechanism and the round environment.
type AuctionConfig struct {
	Mechanism string  `json:"mechanism" yaml:"mechanism" validate:"oneof=first_price second_price"`
	Reserve   float64 `json:"reserve" yaml:"reserve" validate:"gte=0"`

	MaxSlots                       int     `json:"max_slots" yaml:"max_slots" validate:"min=1"`
	EmbeddingSize                  int     `json:"embedding_size" yaml:"embedding_size" validate:"gte=0"`
	EmbeddingVar                   float64 `json:"embedding_var" yaml:"embedding_var" validate:"gt=0"`
	ObsEmbeddingSize               int     `json:"obs_embedding_size" yaml:"obs_embedding_size" validate:"gte=0,ltefield=EmbeddingSize"`
	NumParticipantsPerRound        int     `json:"num_participants_per_round" yaml:"num_participants_per_round" validate:"min=1"`
	FixedCVR                       float64 `json:"fixed_cvr" yaml:"fixed_cvr" validate:"gte=0,lte=1"`
	FixedSalesRevenuePerConversion float64 `json:"fixed_sales_revenue_per_conversion" yaml:"fixed_sales_revenue_per_conversion" validate:"gte=0"`
}

// AgentConfig describes one advertiser.
type AgentConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	NumItems int    `json:"num_items" yaml:"num_items" validate:"min=1"`

	// Values fixes the item values. When empty they are drawn from a
	// log-normal distribution with ValueMu and ValueSigma.
	Values     []float64 `json:"values,omitempty" yaml:"values,omitempty" validate:"omitempty,dive,gt=0"`
	ValueMu    float64   `json:"value_mu" yaml:"value_mu"`
	ValueSigma float64   `json:"value_sigma" yaml:"value_sigma" validate:"gte=0"`

	// Memory is how many impressions survive an iteration boundary; 0 keeps none.
	Memory int `json:"memory" yaml:"memory" validate:"gte=0"`

	Allocator AllocatorConfig `json:"allocator" yaml:"allocator"`
	Bidder    BidderConfig    `json:"bidder" yaml:"bidder"`
}

// AllocatorConfig selects and parameterises a CTR estimator.
type AllocatorConfig struct {
	Kind     string    `json:"kind" yaml:"kind" validate:"oneof=oracle noisy_oracle projected static"`
	NoiseStd float64   `json:"noise_std,omitempty" yaml:"noise_std,omitempty" validate:"gte=0"`
	CTRs     []float64 `json:"ctrs,omitempty" yaml:"ctrs,omitempty" validate:"omitempty,dive,gte=0,lte=1"`
}

// BidderConfig selects and parameterises a bidding strategy.
type BidderConfig struct {
	Kind string `json:"kind" yaml:"kind" validate:"oneof=truthful shaded adaptive"`

	// Factor is the shading factor of a shaded bidder.
	Factor float64 `json:"factor,omitempty" yaml:"factor,omitempty" validate:"gte=0,lte=1"`

	// Adaptive bidder parameters. Zero values fall back to the strategy defaults.
	InitialFactor float64 `json:"initial_factor,omitempty" yaml:"initial_factor,omitempty" validate:"gte=0,lte=1"`
	TargetWinRate float64 `json:"target_win_rate,omitempty" yaml:"target_win_rate,omitempty" validate:"gte=0,lte=1"`
	Step          float64 `json:"step,omitempty" yaml:"step,omitempty" validate:"gte=0"`
	MinFactor     float64 `json:"min_factor,omitempty" yaml:"min_factor,omitempty" validate:"gte=0,lte=1"`
	MaxFactor     float64 `json:"max_factor,omitempty" yaml:"max_factor,omitempty" validate:"gte=0,lte=1"`
}

// LoggingConfig configures log verbosity.
type LoggingConfig struct {
	// Level is "info" (default) or "debug".
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=info debug"`
}

// Debug reports whether DEBUG lines should be logged.
func (l LoggingConfig) Debug() bool {
	return l.Level == "debug"
}

// Default returns a three-agent configuration: an oracle, a projected
// estimator with shaded bids and a projected estimator with adaptive shading.
func Default() *Config {
	return &Config{
		Seed:               DefaultSeed,
		Iterations:         DefaultIterations,
		RoundsPerIteration: DefaultRoundsPerIteration,
		Auction: AuctionConfig{
			Mechanism:                      MechanismSecondPrice,
			MaxSlots:                       DefaultMaxSlots,
			EmbeddingSize:                  DefaultEmbeddingSize,
			EmbeddingVar:                   DefaultEmbeddingVar,
			ObsEmbeddingSize:               DefaultObsEmbeddingSize,
			NumParticipantsPerRound:        DefaultNumParticipantsPerRound,
			FixedCVR:                       DefaultFixedCVR,
			FixedSalesRevenuePerConversion: DefaultSalesRevenuePerConversion,
		},
		Agents: []AgentConfig{
			defaultAgent("agent_oracle", AllocatorOracle, BidderTruthful),
			defaultAgent("agent_shaded", AllocatorProjected, BidderShaded),
			defaultAgent("agent_adaptive", AllocatorProjected, BidderAdaptive),
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

func defaultAgent(name, allocator, bidder string) AgentConfig {
	agent := AgentConfig{
		Name:       name,
		NumItems:   DefaultNumItems,
		ValueMu:    DefaultValueMu,
		ValueSigma: DefaultValueSigma,
		Allocator:  AllocatorConfig{Kind: allocator},
		Bidder:     BidderConfig{Kind: bidder},
	}
	if allocator == AllocatorNoisyOracle {
		agent.Allocator.NoiseStd = DefaultNoiseStd
	}
	if bidder == BidderShaded {
		agent.Bidder.Factor = DefaultShadingFactor
	}
	return agent
}

// Load builds a configuration.
// Order: defaults -> path (if non-empty) -> .env in the working directory -> ADSIM_* variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileConfig
	}

	_ = godotenv.Load()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields the
// file omits keep their defaults; a file that lists agents replaces the
// default agents.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	cfg.Agents = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Agents == nil {
		cfg.Agents = Default().Agents
	}

	return cfg, nil
}

// applyEnvOverrides applies ADSIM_* environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ADSIM_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: ADSIM_SEED=%q is not an unsigned integer", core.ErrInvalidConfig, v)
		}
		cfg.Seed = seed
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"ADSIM_ITERATIONS", &cfg.Iterations},
		{"ADSIM_ROUNDS_PER_ITERATION", &cfg.RoundsPerIteration},
		{"ADSIM_MAX_SLOTS", &cfg.Auction.MaxSlots},
		{"ADSIM_NUM_PARTICIPANTS_PER_ROUND", &cfg.Auction.NumParticipantsPerRound},
	}
	for _, o := range ints {
		if v := os.Getenv(o.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", core.ErrInvalidConfig, o.key, v)
			}
			*o.target = n
		}
	}

	floats := []struct {
		key    string
		target *float64
	}{
		{"ADSIM_RESERVE", &cfg.Auction.Reserve},
		{"ADSIM_FIXED_CVR", &cfg.Auction.FixedCVR},
	}
	for _, o := range floats {
		if v := os.Getenv(o.key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a number", core.ErrInvalidConfig, o.key, v)
			}
			*o.target = f
		}
	}

	if v := os.Getenv("ADSIM_MECHANISM"); v != "" {
		cfg.Auction.Mechanism = strings.ToLower(v)
	}

	if v := os.Getenv("ADSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field ranges and the constraints that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", core.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}

	if c.Auction.NumParticipantsPerRound > len(c.Agents) {
		return fmt.Errorf("%w: num_participants_per_round %d exceeds the %d configured agents",
			core.ErrInvalidConfig, c.Auction.NumParticipantsPerRound, len(c.Agents))
	}

	seen := make(map[string]bool, len(c.Agents))
	for _, agent := range c.Agents {
		if seen[agent.Name] {
			return fmt.Errorf("%w: duplicate agent name %s", core.ErrInvalidConfig, agent.Name)
		}
		seen[agent.Name] = true

		if len(agent.Values) > 0 && len(agent.Values) != agent.NumItems {
			return fmt.Errorf("%w: agent %s lists %d values for %d items",
				core.ErrInvalidConfig, agent.Name, len(agent.Values), agent.NumItems)
		}
		if agent.Allocator.Kind == AllocatorStatic && len(agent.Allocator.CTRs) != agent.NumItems {
			return fmt.Errorf("%w: agent %s static allocator lists %d ctrs for %d items",
				core.ErrInvalidConfig, agent.Name, len(agent.Allocator.CTRs), agent.NumItems)
		}
		if agent.Bidder.Kind == BidderShaded && agent.Bidder.Factor == 0 && len(c.ShadingFactors) == 0 {
			return fmt.Errorf("%w: agent %s shaded bidder needs a factor", core.ErrInvalidConfig, agent.Name)
		}
	}

	return nil
}
