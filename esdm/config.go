package esdm

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl"
)

// ForceFIPS is the operator override for FIPS mode (§4.I).
type ForceFIPS int

const (
	ForceFIPSUnset ForceFIPS = iota
	ForceFIPSEnabled
	ForceFIPSDisabled
)

// Conservative default entropy rate estimates, expressed as a fraction of
// SecurityStrengthBits (the sched rate is a flat 1 bit), matching the original ESDM_*_ENTROPY_RATE
// defaults documented in esdm_config.c.
const (
	defaultCPUEntropyRate   = SecurityStrengthBits / 32
	defaultJentEntropyRate  = SecurityStrengthBits / 16
	defaultKRNGEntropyRate  = SecurityStrengthBits / 16
	defaultSchedEntropyRate = 1
)

// NodeLocator is the OS collaborator boundary (§9 design notes) that
// enumerates online scheduling localities ("nodes"). The default
// implementation treats the process as a single node; a real deployment
// may supply a NUMA-aware implementation.
type NodeLocator interface {
	OnlineNodes() uint32
	CurrNode() uint32
}

type singleNodeLocator struct{}

func (singleNodeLocator) OnlineNodes() uint32 { return 1 }
func (singleNodeLocator) CurrNode() uint32    { return 0 }

// Config is the runtime-tunable configuration record (§4.I). All rate
// setters clamp to [0, SecurityStrengthBits] and notify any registered
// listener so the scheduler can react (the equivalent of
// esdm_es_add_entropy()).
type Config struct {
	mu sync.RWMutex

	cpuEntropyRate   uint32
	jentEntropyRate  uint32
	krngEntropyRate  uint32
	schedEntropyRate uint32

	drngMaxWoReseed uint32
	maxNodes        uint32
	forceFIPS       ForceFIPS

	nodes  NodeLocator
	logger hclog.Logger

	listenersMu sync.Mutex
	listeners   []func()
}

// NewConfig returns a Config populated with the conservative built-in
// defaults and a single-node locator.
func NewConfig(logger hclog.Logger) *Config {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Config{
		cpuEntropyRate:   defaultCPUEntropyRate,
		jentEntropyRate:  defaultJentEntropyRate,
		krngEntropyRate:  defaultKRNGEntropyRate,
		schedEntropyRate: defaultSchedEntropyRate,
		drngMaxWoReseed:  DRNGMaxWithoutReseedDefault,
		maxNodes:         0xffffffff,
		forceFIPS:        ForceFIPSUnset,
		nodes:            singleNodeLocator{},
		logger:           logger.Named("config"),
	}
}

// SetNodeLocator overrides the OS collaborator used for node enumeration.
func (c *Config) SetNodeLocator(n NodeLocator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = n
}

// OnAddEntropy registers a listener fired whenever a rate setter runs,
// mirroring esdm_es_add_entropy() being called from every *_rate_set.
func (c *Config) OnAddEntropy(fn func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Config) fireAddEntropy() {
	c.listenersMu.Lock()
	fns := append([]func(){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func clampRate(v uint32) uint32 {
	if v > SecurityStrengthBits {
		return SecurityStrengthBits
	}
	return v
}

// CPUEntropyRate returns the current declared entropy rate for the CPU
// hardware RNG source, in bits.
func (c *Config) CPUEntropyRate() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cpuEntropyRate
}

// SetCPUEntropyRate clamps and stores a new CPU source entropy rate.
func (c *Config) SetCPUEntropyRate(bits uint32) {
	c.mu.Lock()
	c.cpuEntropyRate = clampRate(bits)
	c.mu.Unlock()
	c.fireAddEntropy()
}

func (c *Config) JitterEntropyRate() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.jentEntropyRate
}

func (c *Config) SetJitterEntropyRate(bits uint32) {
	c.mu.Lock()
	c.jentEntropyRate = clampRate(bits)
	c.mu.Unlock()
	c.fireAddEntropy()
}

func (c *Config) KernelEntropyRate() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.krngEntropyRate
}

func (c *Config) SetKernelEntropyRate(bits uint32) {
	c.mu.Lock()
	c.krngEntropyRate = clampRate(bits)
	c.mu.Unlock()
	c.fireAddEntropy()
}

func (c *Config) SchedEntropyRate() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schedEntropyRate
}

func (c *Config) SetSchedEntropyRate(bits uint32) {
	c.mu.Lock()
	c.schedEntropyRate = clampRate(bits)
	c.mu.Unlock()
	c.fireAddEntropy()
}

// DRNGMaxWithoutReseed returns the number of requestsSinceFullySeeded a
// DRNG may accumulate before being demoted out of fully-seeded.
func (c *Config) DRNGMaxWithoutReseed() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drngMaxWoReseed
}

func (c *Config) SetDRNGMaxWithoutReseed(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drngMaxWoReseed = v
}

// MaxNodes returns the configured cap on DRNG nodes.
func (c *Config) MaxNodes() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxNodes
}

func (c *Config) SetMaxNodes(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxNodes = v
}

// OnlineNodes intersects the OS collaborator's online node count with
// MaxNodes.
func (c *Config) OnlineNodes() uint32 {
	c.mu.RLock()
	nodes, max := c.nodes, c.maxNodes
	c.mu.RUnlock()
	online := nodes.OnlineNodes()
	if online > max {
		return max
	}
	return online
}

// CurrNode intersects the OS collaborator's current node with MaxNodes.
func (c *Config) CurrNode() uint32 {
	c.mu.RLock()
	nodes, max := c.nodes, c.maxNodes
	c.mu.RUnlock()
	if max == 0 {
		return 0
	}
	return nodes.CurrNode() % max
}

// SetForceFIPS sets the operator override for FIPS mode.
func (c *Config) SetForceFIPS(v ForceFIPS) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceFIPS = v
}

// FIPSEnabled returns the runtime FIPS flag if the operator set one,
// else falls back to the process environment's FIPS status (§4.I).
func (c *Config) FIPSEnabled() bool {
	c.mu.RLock()
	forced := c.forceFIPS
	c.mu.RUnlock()

	switch forced {
	case ForceFIPSEnabled:
		return true
	case ForceFIPSDisabled:
		return false
	}
	return environmentFIPSEnabled()
}

// environmentFIPSEnabled implements the §6 contract: any value on
// ESDM_SERVER_FORCE_FIPS sets FIPS, except a value that plainly parses as
// boolean-false, which explicitly disables it.
func environmentFIPSEnabled() bool {
	v, ok := os.LookupEnv("ESDM_SERVER_FORCE_FIPS")
	if !ok {
		return osFIPSEnabled()
	}
	if v == "" {
		return true
	}
	if b, err := parseutil.ParseBool(v); err == nil {
		return b
	}
	return true
}

// osFIPSEnabled best-effort detects whether the host kernel itself is
// running in FIPS mode, outside of the daemon's own override.
func osFIPSEnabled() bool {
	data, err := os.ReadFile("/proc/sys/crypto/fips_enabled")
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(string(trimNewline(data)))
	if err != nil {
		return false
	}
	return n != 0
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// fileConfig is the HCL decode target for an on-disk configuration file.
type fileConfig struct {
	CPUEntropyRateBits   *uint32 `mapstructure:"cpu_entropy_rate_bits"`
	JitterEntropyRateBits *uint32 `mapstructure:"jitter_entropy_rate_bits"`
	KernelEntropyRateBits *uint32 `mapstructure:"kernel_entropy_rate_bits"`
	SchedEntropyRateBits  *uint32 `mapstructure:"sched_entropy_rate_bits"`
	DRNGMaxWithoutReseed  *uint32 `mapstructure:"drng_max_without_reseed"`
	MaxNodes              *uint32 `mapstructure:"max_nodes"`
	ForceFIPS             *string `mapstructure:"force_fips"`
}

// LoadConfig parses an HCL configuration file, in the style vault/openbao
// parse their server stanza: decode HCL into a generic object, then type
// it with mapstructure. Any field absent from the file keeps its
// built-in default.
func LoadConfig(path string, logger hclog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("esdm: read config %q: %w", path, err)
	}

	var raw map[string]interface{}
	if err := hcl.Decode(&raw, string(data)); err != nil {
		return nil, fmt.Errorf("esdm: parse config %q: %w", path, err)
	}

	var fc fileConfig
	if err := mapstructure.Decode(raw, &fc); err != nil {
		return nil, fmt.Errorf("esdm: decode config %q: %w", path, err)
	}

	cfg := NewConfig(logger)
	if fc.CPUEntropyRateBits != nil {
		cfg.SetCPUEntropyRate(*fc.CPUEntropyRateBits)
	}
	if fc.JitterEntropyRateBits != nil {
		cfg.SetJitterEntropyRate(*fc.JitterEntropyRateBits)
	}
	if fc.KernelEntropyRateBits != nil {
		cfg.SetKernelEntropyRate(*fc.KernelEntropyRateBits)
	}
	if fc.SchedEntropyRateBits != nil {
		cfg.SetSchedEntropyRate(*fc.SchedEntropyRateBits)
	}
	if fc.DRNGMaxWithoutReseed != nil {
		cfg.SetDRNGMaxWithoutReseed(*fc.DRNGMaxWithoutReseed)
	}
	if fc.MaxNodes != nil {
		cfg.SetMaxNodes(*fc.MaxNodes)
	}
	if fc.ForceFIPS != nil {
		switch *fc.ForceFIPS {
		case "enabled":
			cfg.SetForceFIPS(ForceFIPSEnabled)
		case "disabled":
			cfg.SetForceFIPS(ForceFIPSDisabled)
		}
	}

	return cfg, nil
}

// Init applies the FIPS Jitter upgrade scenario (§8): if FIPS is enabled
// and the Jitter rate is still at its unmodified default, raise it to
// full security strength.
func (c *Config) Init() {
	if c.FIPSEnabled() && defaultJentEntropyRate > 0 && c.JitterEntropyRate() == defaultJentEntropyRate {
		c.SetJitterEntropyRate(SecurityStrengthBits)
	}
}
