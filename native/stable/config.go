package stable

// Config captures the runtime configuration for the stable module.
type Config struct {
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
}

// Params converts the configuration to engine risk parameters, applying
// defaults where fields are unset.
func (c Config) Params() Params {
	return Params{
		LiquidationThresholdBps: c.LiquidationThresholdBps,
		LiquidationBonusBps:     c.LiquidationBonusBps,
	}.Normalise()
}
