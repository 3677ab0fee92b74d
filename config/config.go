// Package config loads the TOML runtime configuration for the protocol
// binaries and maps it onto the governed parameter set.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"collar/native/confighub"
)

// Config is the on-disk runtime configuration.
type Config struct {
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`
	MetricsAddress string `toml:"MetricsAddress"`

	Underlying string `toml:"Underlying"`
	Cash       string `toml:"Cash"`

	FeeRecipient         string `toml:"FeeRecipient"`
	ProtocolFeeAPRBips   uint64 `toml:"ProtocolFeeAPRBips"`
	MinDurationSeconds   int64  `toml:"MinDurationSeconds"`
	MaxDurationSeconds   int64  `toml:"MaxDurationSeconds"`
	MinLTVBips           uint64 `toml:"MinLTVBips"`
	MaxLTVBips           uint64 `toml:"MaxLTVBips"`
	MaxSwapDeviationBips uint64 `toml:"MaxSwapDeviationBips"`
	SwapSlippageBips     uint64 `toml:"SwapSlippageBips"`
}

const defaultConfig = `DataDir = ""
Environment = "dev"
MetricsAddress = ""

Underlying = "WETH"
Cash = "USDC"

FeeRecipient = "0x0000000000000000000000000000000000000000"
ProtocolFeeAPRBips = 100
MinDurationSeconds = 86400
MaxDurationSeconds = 31536000
MinLTVBips = 1000
MaxLTVBips = 9900
MaxSwapDeviationBips = 500
SwapSlippageBips = 0
`

// Load reads the configuration at path, creating a default file first when
// none exists. Unknown keys are rejected so typos surface immediately.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
			return nil, fmt.Errorf("config: write default: %w", err)
		}
	}
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config: unknown keys: %s", strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.Underlying == "" {
		c.Underlying = "WETH"
	}
	if c.Cash == "" {
		c.Cash = "USDC"
	}
	if c.MinDurationSeconds == 0 {
		c.MinDurationSeconds = 86_400
	}
	if c.MaxDurationSeconds == 0 {
		c.MaxDurationSeconds = 365 * 86_400
	}
	if c.MinLTVBips == 0 {
		c.MinLTVBips = 1_000
	}
	if c.MaxLTVBips == 0 {
		c.MaxLTVBips = 9_900
	}
	if c.MaxSwapDeviationBips == 0 {
		c.MaxSwapDeviationBips = 500
	}
}

// Validate checks the fields that do not round-trip through the hub's own
// validation.
func (c *Config) Validate() error {
	if strings.EqualFold(c.Underlying, c.Cash) {
		return fmt.Errorf("config: underlying and cash must differ")
	}
	if c.FeeRecipient != "" && !common.IsHexAddress(c.FeeRecipient) {
		return fmt.Errorf("config: invalid fee recipient %q", c.FeeRecipient)
	}
	return nil
}

// HubParams converts the configuration into the governed parameter set.
func (c *Config) HubParams() confighub.Params {
	var recipient [20]byte
	if common.IsHexAddress(c.FeeRecipient) {
		recipient = [20]byte(common.HexToAddress(c.FeeRecipient))
	}
	return confighub.Params{
		ProtocolFeeAPRBips:   c.ProtocolFeeAPRBips,
		FeeRecipient:         recipient,
		MinDuration:          c.MinDurationSeconds,
		MaxDuration:          c.MaxDurationSeconds,
		MinLTVBips:           c.MinLTVBips,
		MaxLTVBips:           c.MaxLTVBips,
		MaxSwapDeviationBips: c.MaxSwapDeviationBips,
	}
}
