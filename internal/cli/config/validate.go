package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/mqmjob/internal/cli/output"
	"github.com/leapstack-labs/mqmjob/internal/profile"
)

// Validate checks the output mode and every profile override.
func (c *Config) Validate() error {
	var errs []error
	if !output.ValidMode(c.OutputFormat) {
		errs = append(errs, fmt.Errorf("invalid output format %q (expected one of %s)",
			c.OutputFormat, strings.Join(output.Modes, ", ")))
	}
	for name := range c.Profiles {
		p, err := profile.Lookup(name, c.Profiles)
		if err != nil {
			errs = append(errs, fmt.Errorf("profiles.%s: %w", name, err))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("profiles.%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w\nHint: check %s or the MQMJOB_* environment", errors.Join(errs...), ConfigFileName)
	}
	return nil
}

// normalizeProfileKeys lowercases profile names so "COMET:" in the config
// file matches the built-in "comet".
func normalizeProfileKeys(in map[string]profile.Override) map[string]profile.Override {
	if len(in) == 0 {
		return in
	}
	out := make(map[string]profile.Override, len(in))
	for name, o := range in {
		out[strings.ToLower(name)] = o
	}
	return out
}
