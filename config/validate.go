package config

import (
	"fmt"
	"strings"
)

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects configurations the simulator cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	s := c.Simulation
	if s.NodeTickMs <= 0 {
		return fmt.Errorf("simulation: NodeTickMs must be positive")
	}
	if s.MinimumDepth == 0 {
		return fmt.Errorf("simulation: MinimumDepth must be at least 1")
	}
	if s.ReserveFraction < 0 || s.ReserveFraction >= 0.5 {
		return fmt.Errorf("simulation: ReserveFraction must be in [0, 0.5)")
	}
	if s.MaxPaths <= 0 {
		return fmt.Errorf("simulation: MaxPaths must be positive")
	}
	if s.QueueBatchSize <= 0 {
		return fmt.Errorf("simulation: QueueBatchSize must be positive")
	}
	if c.Chain.BlockTimeMs <= 0 {
		return fmt.Errorf("chain: BlockTimeMs must be positive")
	}
	if c.Chain.BlockWeight <= 0 {
		return fmt.Errorf("chain: BlockWeight must be positive")
	}
	if c.Chain.FundingTxSize <= 0 || c.Chain.FundingTxSize > c.Chain.BlockWeight {
		return fmt.Errorf("chain: FundingTxSize must be in (0, BlockWeight]")
	}
	if c.Chain.BackgroundLoadBytes < 0 {
		return fmt.Errorf("chain: BackgroundLoadBytes must not be negative")
	}
	if c.Chain.BackgroundLoadBytes > 0 && c.Chain.BackgroundFeeRate < 1 {
		return fmt.Errorf("chain: BackgroundFeeRate must be at least 1 when background load is enabled")
	}
	if c.Gossip.MaxHops < 0 {
		return fmt.Errorf("gossip: MaxHops must not be negative")
	}
	if c.Gossip.FlushSize <= 0 || c.Gossip.FlushPeriodTicks <= 0 {
		return fmt.Errorf("gossip: FlushSize and FlushPeriodTicks must be positive")
	}
	if c.Concurrency.BootstrapWorkers <= 0 || c.Concurrency.InvoiceWorkers <= 0 {
		return fmt.Errorf("concurrency: worker counts must be positive")
	}
	if c.Metrics.RateLimit < 0 || c.Metrics.RateBurst < 0 {
		return fmt.Errorf("metrics: RateLimit and RateBurst must not be negative")
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	seen := map[string]bool{}
	for i, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("profiles[%d]: Name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("profiles[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Nodes < 0 {
			return fmt.Errorf("profiles[%s]: Nodes must not be negative", p.Name)
		}
		for field, r := range map[string]Range{
			"Channels":       p.Channels,
			"ChannelSize":    p.ChannelSize,
			"FundingFeeRate": p.FundingFeeRate,
			"BaseFee":        p.BaseFee,
			"FeePPM":         p.FeePPM,
			"CLTVDelta":      p.CLTVDelta,
		} {
			if r.Min < 0 || r.Max < r.Min {
				return fmt.Errorf("profiles[%s]: %s range [%d, %d] is invalid", p.Name, field, r.Min, r.Max)
			}
		}
		if p.FundingFeeRate.Min < 1 {
			return fmt.Errorf("profiles[%s]: FundingFeeRate must be at least 1", p.Name)
		}
		if p.ChannelSize.Min <= 0 {
			return fmt.Errorf("profiles[%s]: ChannelSize must be positive", p.Name)
		}
	}
	return nil
}
