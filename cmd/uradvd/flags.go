package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/netradv/uradvd"
)

// prefixListFlag implements pflag.Value for -a/-p. Both flags append to the
// same underlying slice, in the order they appear on the command line, so
// that "-p 2001:db8:1::/64 -a 2001:db8:2::/64 -p 2001:db8:3::/64" preserves
// the relative ordering spec.md §4.2 requires for the emitted Prefix
// Information options.
type prefixListFlag struct {
	specs *[]uradvd.PrefixSpec
	link  bool
}

func (f *prefixListFlag) String() string { return "" }

func (f *prefixListFlag) Set(value string) error {
	*f.specs = append(*f.specs, uradvd.PrefixSpec{Value: value, OnLink: f.link})
	return nil
}

func (f *prefixListFlag) Type() string { return "prefix" }

// stringListFlag implements pflag.Value for a plain repeatable string flag
// (--rdnss).
type stringListFlag struct {
	values *[]string
}

func (f *stringListFlag) String() string { return "" }

func (f *stringListFlag) Set(value string) error {
	*f.values = append(*f.values, value)
	return nil
}

func (f *stringListFlag) Type() string { return "string" }

// singleStringFlag implements pflag.Value for -i, rejecting a second
// occurrence outright, per spec.md §4.8's "multiple -i occurrences" check.
type singleStringFlag struct {
	value *string
	set   bool
}

func (f *singleStringFlag) String() string {
	if f.value == nil {
		return ""
	}
	return *f.value
}

func (f *singleStringFlag) Set(value string) error {
	if f.set {
		return fmt.Errorf("-i may only be given once")
	}
	*f.value = value
	f.set = true
	return nil
}

func (f *singleStringFlag) Type() string { return "string" }

// parseFlags parses the CLI surface of spec.md §6 into an unvalidated
// RawConfig, matching the split the teacher's config.go draws between
// parsing and validation (uradvd.NewConfig does the latter).
func parseFlags(args []string) (uradvd.RawConfig, bool, error) {
	fs := flag.NewFlagSet("uradvd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var raw uradvd.RawConfig
	var ifname string

	fs.VarP(&singleStringFlag{value: &ifname}, "interface", "i", "interface to advertise on (required)")

	fs.VarP(&prefixListFlag{specs: &raw.PrefixSpecs, link: false}, "autonomous-prefix", "a", "advertise an autonomous (non-on-link) /64 prefix, repeatable")
	fs.VarP(&prefixListFlag{specs: &raw.PrefixSpecs, link: true}, "onlink-prefix", "p", "advertise an on-link /64 prefix, repeatable")

	fs.Var(&stringListFlag{values: &raw.RDNSSSpecs}, "rdnss", "recursive DNS server address, repeatable (0..3)")

	defaultLifetime := fs.Int("default-lifetime", -1, "router lifetime advertised in seconds (0..65535; default 0)")
	validLifetime := fs.Int("valid-lifetime", -1, "prefix valid lifetime in seconds (default 86400)")
	preferredLifetime := fs.Int("preferred-lifetime", -1, "prefix preferred lifetime in seconds (default 14400)")
	maxRtrAdvInterval := fs.Int("max-router-adv-interval", -1, "maximum interval between unsolicited RAs in seconds (default 600)")

	help := fs.BoolP("help", "h", false, "print usage and exit")

	if err := fs.Parse(args); err != nil {
		return uradvd.RawConfig{}, false, err
	}

	if *help {
		fs.PrintDefaults()
		return uradvd.RawConfig{}, true, nil
	}

	if ifname == "" {
		return uradvd.RawConfig{}, false, fmt.Errorf("-i is required")
	}

	raw.Interface = ifname
	raw.DefaultLifetime = *defaultLifetime
	raw.ValidLifetime = *validLifetime
	raw.PreferredLifetime = *preferredLifetime
	raw.MaxRtrAdvInterval = *maxRtrAdvInterval

	return raw, false, nil
}
