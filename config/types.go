package config

import "time"

// Simulation holds the protocol knobs shared by every node agent.
type Simulation struct {
	// Seed is the master seed; per-node generators derive from it.
	Seed                 uint64  `toml:"Seed" yaml:"seed"`
	NodeTickMs           int     `toml:"NodeTickMs" yaml:"nodeTickMs"`
	ToSelfDelay          uint32  `toml:"ToSelfDelay" yaml:"toSelfDelay"`
	MinimumDepth         uint64  `toml:"MinimumDepth" yaml:"minimumDepth"`
	FinalCLTVDelta       uint32  `toml:"FinalCLTVDelta" yaml:"finalCltvDelta"`
	ReserveFraction      float64 `toml:"ReserveFraction" yaml:"reserveFraction"`
	PathFinder           string  `toml:"PathFinder" yaml:"pathFinder"`
	MaxPaths             int     `toml:"MaxPaths" yaml:"maxPaths"`
	QueueBatchSize       int     `toml:"QueueBatchSize" yaml:"queueBatchSize"`
	AttemptTimeoutBlocks uint64  `toml:"AttemptTimeoutBlocks" yaml:"attemptTimeoutBlocks"`
}

// NodeTick returns the node service period.
func (s Simulation) NodeTick() time.Duration {
	return time.Duration(s.NodeTickMs) * time.Millisecond
}

// Chain configures the simulated blockchain.
type Chain struct {
	BlockTimeMs         int   `toml:"BlockTimeMs" yaml:"blockTimeMs"`
	BlockWeight         int64 `toml:"BlockWeight" yaml:"blockWeight"`
	FundingTxSize       int64 `toml:"FundingTxSize" yaml:"fundingTxSize"`
	BackgroundLoadBytes int64 `toml:"BackgroundLoadBytes" yaml:"backgroundLoadBytes"`
	BackgroundFeeRate   int64 `toml:"BackgroundFeeRate" yaml:"backgroundFeeRate"`
}

// BlockTime returns the block period.
func (c Chain) BlockTime() time.Duration {
	return time.Duration(c.BlockTimeMs) * time.Millisecond
}

// Gossip bounds dissemination.
type Gossip struct {
	MaxHops int    `toml:"MaxHops" yaml:"maxHops"`
	MaxAge  uint64 `toml:"MaxAge" yaml:"maxAge"`
	// FlushSize caps the gossip messages processed per tick.
	FlushSize int `toml:"FlushSize" yaml:"flushSize"`
	// FlushPeriodTicks processes the gossip queue every N ticks.
	FlushPeriodTicks int `toml:"FlushPeriodTicks" yaml:"flushPeriodTicks"`
	SeenCacheSize    int `toml:"SeenCacheSize" yaml:"seenCacheSize"`
}

// Concurrency sizes the bounded worker pools.
type Concurrency struct {
	BootstrapWorkers int `toml:"BootstrapWorkers" yaml:"bootstrapWorkers"`
	InvoiceWorkers   int `toml:"InvoiceWorkers" yaml:"invoiceWorkers"`
}

// Logging configures the process logger.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	Env        string `toml:"Env" yaml:"env"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
}

// Metrics configures the introspection listener. An empty address disables it.
type Metrics struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listenAddress"`
	// AuthToken, when set, is required as a bearer token on every route but /healthz.
	AuthToken string  `toml:"AuthToken" yaml:"authToken"`
	RateLimit float64 `toml:"RateLimit" yaml:"rateLimit"`
	RateBurst int     `toml:"RateBurst" yaml:"rateBurst"`
}

// Range is an inclusive integer interval sampled uniformly.
type Range struct {
	Min int64 `toml:"Min" yaml:"min"`
	Max int64 `toml:"Max" yaml:"max"`
}

// Profile describes one class of bootstrapped nodes.
type Profile struct {
	Name           string `toml:"Name" yaml:"name"`
	Nodes          int    `toml:"Nodes" yaml:"nodes"`
	Channels       Range  `toml:"Channels" yaml:"channels"`
	ChannelSize    Range  `toml:"ChannelSize" yaml:"channelSize"`
	FundingFeeRate Range  `toml:"FundingFeeRate" yaml:"fundingFeeRate"`
	BaseFee        Range  `toml:"BaseFee" yaml:"baseFee"`
	FeePPM         Range  `toml:"FeePPM" yaml:"feePpm"`
	CLTVDelta      Range  `toml:"CLTVDelta" yaml:"cltvDelta"`
}

// Telemetry configures OTLP export of metrics and traces. Both are off by default.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	// Headers is a comma separated key=value list.
	Headers string `toml:"Headers" yaml:"headers"`
	Metrics bool   `toml:"Metrics" yaml:"metrics"`
	Traces  bool   `toml:"Traces" yaml:"traces"`
}
