package config

import (
	"math/rand/v2"

	"lnsim/core/types"
)

// Sample draws a value in [Min, Max].
func (r Range) Sample(rng *rand.Rand) int64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Int64N(r.Max-r.Min+1)
}

// SamplePolicy draws a forwarding policy from the profile's fee ranges.
func (p Profile) SamplePolicy(rng *rand.Rand) types.Policy {
	return types.Policy{
		CLTVDelta: uint32(p.CLTVDelta.Sample(rng)),
		BaseFee:   p.BaseFee.Sample(rng),
		FeePPM:    p.FeePPM.Sample(rng),
	}
}

// TotalNodes returns the node count across all profiles.
func (c *Config) TotalNodes() int {
	n := 0
	for _, p := range c.Profiles {
		n += p.Nodes
	}
	return n
}

// Profile looks a profile up by name.
func (c *Config) Profile(name string) (Profile, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
