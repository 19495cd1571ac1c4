package uradvd

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/go-playground/validator/v10"
)

// Bounds from spec.md §3/§4.8 and uradvd.c's MAX_PREFIXES/MAX_RDNSS.
const (
	MaxPrefixes = 8
	MaxRDNSS    = 3

	// DefaultValidLifetimeSeconds, DefaultPreferredLifetimeSeconds and
	// DefaultMaxRtrAdvIntervalSeconds mirror uradvd.c's
	// AdvValidLifetime/AdvPreferredLifetime/MaxRtrAdvInterval.
	DefaultValidLifetimeSeconds     = 86400
	DefaultPreferredLifetimeSeconds = 14400
	DefaultMaxRtrAdvIntervalSeconds = 600

	// minRtrAdvIntervalFloor is the "clamped to >= 3" floor from spec.md
	// §4.6 for the derived MinRtrAdvInterval.
	minRtrAdvIntervalFloor = 3
)

// ConfigError reports an invalid configuration parameter. It mirrors the
// teacher's ParameterError (config.go), including the Is method that lets
// callers match on (Field, Message) with errors.Is.
type ConfigError struct {
	Field   string
	Message string
}

var _ error = (*ConfigError)(nil)

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigError) Is(target error) bool {
	var o *ConfigError
	if !errors.As(target, &o) {
		return false
	}
	return e.Field == o.Field && e.Message == o.Message
}

// Prefix is one advertised /64 on-link/SLAAC prefix (spec.md §3).
type Prefix struct {
	Addr   netip.Addr `validate:"required"`
	OnLink bool
}

// Config is the immutable, validated runtime configuration described by
// spec.md §3. It is built once at startup by NewConfig and never mutated
// afterwards (spec.md's Non-goals exclude reconfiguration after startup).
type Config struct {
	Interface string `validate:"required,max=15"`

	Prefixes []Prefix `validate:"required,min=1,max=8,dive"`

	DefaultLifetime uint16 // seconds; 0 = not a default router

	RDNSS []netip.Addr `validate:"max=3"`

	ValidLifetime     uint32 `validate:"required"`
	PreferredLifetime uint32 `validate:"required"`

	MaxRtrAdvInterval int `validate:"min=3"` // seconds
	MinRtrAdvInterval int `validate:"min=3"` // seconds, derived
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// RawConfig is the unvalidated shape the CLI parses flags into (addresses
// as strings, numbers as ints with -1 for "not set"), matching the "external collaborator" boundary spec.md §1 draws
// around configuration: the CLI layer only ever hands the core a Config it
// built via NewConfig.
type RawConfig struct {
	Interface string

	// PrefixSpecs are "<addr>" or "<addr>/64" strings paired with the on-link flag they
	// were given with (-a => false, -p => true), in command-line order.
	PrefixSpecs []PrefixSpec

	DefaultLifetime int // -1 means "not set"

	RDNSSSpecs []string

	ValidLifetime     int // -1 means "not set"
	PreferredLifetime int // -1 means "not set"

	MaxRtrAdvInterval int // -1 means "not set"
}

// PrefixSpec is one -a/-p occurrence, in the order it appeared.
type PrefixSpec struct {
	Value  string
	OnLink bool
}

// NewConfig validates a RawConfig and applies defaults, producing an
// immutable Config. It rejects the same things uradvd.c's
// parse_cmdline/add_prefix/add_rdnss reject (lines 580–689 of
// original_source/uradvd.c), plus the mechanical bounds
// go-playground/validator enforces via struct tags, matching the style of
// the teacher's config.go/config_test.go.
func NewConfig(raw RawConfig) (*Config, error) {
	if raw.Interface == "" {
		return nil, &ConfigError{"Interface", "interface name is required"}
	}
	if len(raw.Interface) > 15 {
		return nil, &ConfigError{"Interface", "must be 1..IF_NAMESIZE-1 characters"}
	}

	if len(raw.PrefixSpecs) == 0 {
		return nil, &ConfigError{"Prefixes", "at least one prefix is required"}
	}
	if len(raw.PrefixSpecs) > MaxPrefixes {
		return nil, &ConfigError{"Prefixes", fmt.Sprintf("maximum number of prefixes is %d", MaxPrefixes)}
	}

	prefixes := make([]Prefix, 0, len(raw.PrefixSpecs))
	for _, spec := range raw.PrefixSpecs {
		p, err := parsePrefix64(spec.Value)
		if err != nil {
			return nil, &ConfigError{"Prefixes", fmt.Sprintf("invalid prefix %q: %s", spec.Value, err)}
		}
		prefixes = append(prefixes, Prefix{Addr: p, OnLink: spec.OnLink})
	}

	if len(raw.RDNSSSpecs) > MaxRDNSS {
		return nil, &ConfigError{"RDNSS", fmt.Sprintf("maximum number of RDNSS addresses is %d", MaxRDNSS)}
	}
	rdnss := make([]netip.Addr, 0, len(raw.RDNSSSpecs))
	for _, s := range raw.RDNSSSpecs {
		a, err := netip.ParseAddr(s)
		if err != nil || !a.Is6() {
			return nil, &ConfigError{"RDNSS", fmt.Sprintf("invalid RDNSS address %q", s)}
		}
		rdnss = append(rdnss, a)
	}

	defaultLifetime := 0
	if raw.DefaultLifetime >= 0 {
		defaultLifetime = raw.DefaultLifetime
	}
	if defaultLifetime < 0 || defaultLifetime > 65535 {
		return nil, &ConfigError{"DefaultLifetime", "must be in 0..65535"}
	}

	validLifetime := DefaultValidLifetimeSeconds
	if raw.ValidLifetime >= 0 {
		validLifetime = raw.ValidLifetime
	}
	preferredLifetime := DefaultPreferredLifetimeSeconds
	if raw.PreferredLifetime >= 0 {
		preferredLifetime = raw.PreferredLifetime
	}
	if preferredLifetime > validLifetime {
		return nil, &ConfigError{"PreferredLifetime", "must be <= ValidLifetime"}
	}

	maxRtrAdvInterval := DefaultMaxRtrAdvIntervalSeconds
	if raw.MaxRtrAdvInterval >= 0 {
		maxRtrAdvInterval = raw.MaxRtrAdvInterval
	}
	if maxRtrAdvInterval < 4 {
		return nil, &ConfigError{"MaxRtrAdvInterval", "must be >= 4"}
	}

	minRtrAdvInterval := maxRtrAdvInterval / 3
	if minRtrAdvInterval < minRtrAdvIntervalFloor {
		minRtrAdvInterval = minRtrAdvIntervalFloor
	}

	c := &Config{
		Interface:         raw.Interface,
		Prefixes:          prefixes,
		DefaultLifetime:   uint16(defaultLifetime),
		RDNSS:             rdnss,
		ValidLifetime:     uint32(validLifetime),
		PreferredLifetime: uint32(preferredLifetime),
		MaxRtrAdvInterval: maxRtrAdvInterval,
		MinRtrAdvInterval: minRtrAdvInterval,
	}

	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			first := verrs[0]
			return nil, &ConfigError{first.Field(), first.Tag()}
		}
		return nil, err
	}

	return c, nil
}

// parsePrefix64 parses a "<addr>" or "<addr>/64" prefix literal, requiring
// exactly length 64 and a zero lower 64 bits, matching uradvd.c's
// add_prefix (original_source/uradvd.c lines 594–626).
func parsePrefix64(s string) (netip.Addr, error) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		addr, aerr := netip.ParseAddr(s)
		if aerr != nil {
			return netip.Addr{}, fmt.Errorf("not a valid IPv6 address or prefix")
		}
		prefix = netip.PrefixFrom(addr, 64)
	}

	if !prefix.Addr().Is6() {
		return netip.Addr{}, fmt.Errorf("not an IPv6 address")
	}
	if prefix.Bits() != 64 {
		return netip.Addr{}, fmt.Errorf("only prefixes of length 64 are supported")
	}

	raw := prefix.Addr().As16()
	for _, b := range raw[8:] {
		if b != 0 {
			return netip.Addr{}, fmt.Errorf("lower 64 bits must be zero")
		}
	}

	return prefix.Addr(), nil
}
