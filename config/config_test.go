package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dimdimlv/mt-project/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	check.NoError(t, cfg.Validate())
	check.Equal(t, DefaultSeed, cfg.Seed)
	check.Equal(t, MechanismSecondPrice, cfg.Auction.Mechanism)
	check.Equal(t, 3, len(cfg.Agents))
	check.False(t, cfg.Logging.Debug())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sim.yaml", `
seed: 99
iterations: 2
auction:
  mechanism: first_price
  reserve: 0.05
  num_participants_per_round: 2
agents:
  - name: alpha
    num_items: 2
    values: [1.5, 2.5]
    allocator:
      kind: static
      ctrs: [0.1, 0.2]
    bidder:
      kind: truthful
  - name: beta
    num_items: 4
    memory: 2
    allocator:
      kind: noisy_oracle
      noise_std: 0.3
    bidder:
      kind: adaptive
      target_win_rate: 0.5
shading_factors:
  default: 0.9
logging:
  level: debug
`)

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)

	check.Equal(t, uint64(99), cfg.Seed)
	check.Equal(t, 2, cfg.Iterations)
	check.Equal(t, DefaultRoundsPerIteration, cfg.RoundsPerIteration)
	check.Equal(t, MechanismFirstPrice, cfg.Auction.Mechanism)
	check.Equal(t, 0.05, cfg.Auction.Reserve)
	check.Equal(t, DefaultMaxSlots, cfg.Auction.MaxSlots)
	check.Equal(t, 2, len(cfg.Agents))
	check.Equal(t, []float64{1.5, 2.5}, cfg.Agents[0].Values)
	check.Equal(t, AllocatorNoisyOracle, cfg.Agents[1].Allocator.Kind)
	check.Equal(t, 0.3, cfg.Agents[1].Allocator.NoiseStd)
	check.Equal(t, 2, cfg.Agents[1].Memory)
	check.Equal(t, 0.9, cfg.ShadingFactors["default"])
	check.True(t, cfg.Logging.Debug())
	check.NoError(t, cfg.Validate())
}

func TestLoadFromFile_KeepsDefaultAgentsWhenOmitted(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sim.yaml", "iterations: 3\n")

	cfg, err := LoadFromFile(path)
	assert.NoError(t, err)
	check.Equal(t, 3, cfg.Iterations)
	check.Equal(t, Default().Agents, cfg.Agents)
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "reading config file"))

	bad := writeFile(t, dir, "bad.yaml", "iterations: [not, an, int]\n")
	_, err = LoadFromFile(bad)
	check.Error(t, err)
	check.True(t, strings.Contains(err.Error(), "parsing config file"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ADSIM_SEED", "7")
	t.Setenv("ADSIM_ITERATIONS", "4")
	t.Setenv("ADSIM_ROUNDS_PER_ITERATION", "25")
	t.Setenv("ADSIM_MECHANISM", "FIRST_PRICE")
	t.Setenv("ADSIM_RESERVE", "0.2")
	t.Setenv("ADSIM_LOG_LEVEL", "debug")

	cfg, err := Load("")
	assert.NoError(t, err)

	check.Equal(t, uint64(7), cfg.Seed)
	check.Equal(t, 4, cfg.Iterations)
	check.Equal(t, 25, cfg.RoundsPerIteration)
	check.Equal(t, MechanismFirstPrice, cfg.Auction.Mechanism)
	check.Equal(t, 0.2, cfg.Auction.Reserve)
	check.True(t, cfg.Logging.Debug())
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "ADSIM_MAX_SLOTS=5\n")
	t.Setenv("ADSIM_MAX_SLOTS", "")
	os.Unsetenv("ADSIM_MAX_SLOTS")

	cfg, err := Load("")
	assert.NoError(t, err)
	check.Equal(t, 5, cfg.Auction.MaxSlots)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		key   string
		value string
	}{
		{"ADSIM_SEED", "-1"},
		{"ADSIM_ITERATIONS", "many"},
		{"ADSIM_FIXED_CVR", "high"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			check.Error(t, err)
			check.True(t, errors.Is(err, core.ErrInvalidConfig))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{
			name:      "zero iterations",
			mutate:    func(c *Config) { c.Iterations = 0 },
			errSubstr: "iterations",
		},
		{
			name:      "unknown mechanism",
			mutate:    func(c *Config) { c.Auction.Mechanism = "vickrey" },
			errSubstr: "mechanism",
		},
		{
			name:      "observed context wider than true context",
			mutate:    func(c *Config) { c.Auction.ObsEmbeddingSize = c.Auction.EmbeddingSize + 1 },
			errSubstr: "obs_embedding_size",
		},
		{
			name:      "cvr above one",
			mutate:    func(c *Config) { c.Auction.FixedCVR = 1.5 },
			errSubstr: "fixed_cvr",
		},
		{
			name:      "no agents",
			mutate:    func(c *Config) { c.Agents = nil },
			errSubstr: "agents",
		},
		{
			name:      "too many participants",
			mutate:    func(c *Config) { c.Auction.NumParticipantsPerRound = 4 },
			errSubstr: "exceeds",
		},
		{
			name:      "duplicate agent",
			mutate:    func(c *Config) { c.Agents[1].Name = c.Agents[0].Name },
			errSubstr: "duplicate agent name",
		},
		{
			name:      "unknown allocator",
			mutate:    func(c *Config) { c.Agents[0].Allocator.Kind = "neural" },
			errSubstr: "kind",
		},
		{
			name:      "value count mismatch",
			mutate:    func(c *Config) { c.Agents[0].Values = []float64{1, 2} },
			errSubstr: "values for",
		},
		{
			name: "static allocator without ctrs",
			mutate: func(c *Config) {
				c.Agents[0].Allocator = AllocatorConfig{Kind: AllocatorStatic}
			},
			errSubstr: "static allocator",
		},
		{
			name:      "shaded bidder without factor",
			mutate:    func(c *Config) { c.Agents[1].Bidder.Factor = 0 },
			errSubstr: "needs a factor",
		},
		{
			name:      "shading factor out of range",
			mutate:    func(c *Config) { c.ShadingFactors = map[string]float64{"default": 1.5} },
			errSubstr: "shading_factors",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.Logging.Level = "trace" },
			errSubstr: "level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			check.Error(t, err)
			check.True(t, errors.Is(err, core.ErrInvalidConfig))
			check.True(t, strings.Contains(err.Error(), tt.errSubstr))
		})
	}
}

func TestValidate_ShadingFactorsReplaceAgentFactor(t *testing.T) {
	cfg := Default()
	cfg.Agents[1].Bidder.Factor = 0
	cfg.ShadingFactors = map[string]float64{"agent_shaded": 0.7}
	check.NoError(t, cfg.Validate())
}
