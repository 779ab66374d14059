package config

import (
	"sort"
	"strings"
)

// Feature flag names as they appear in FEATURES_ENABLED / FEATURES_DISABLED.
const (
	FeatureCatalogCache      = "catalog_cache"
	FeatureRequireEnrollment = "require_enrollment"
	FeatureRedisEventMirror  = "redis_event_mirror"
	FeatureReconcileJob      = "reconcile_job"
	FeatureVerification      = "certificate_verification"
)

// defaultFeatures is the state of every known flag when the environment says
// nothing about it.
var defaultFeatures = map[string]bool{
	FeatureCatalogCache:      true,
	FeatureRequireEnrollment: true,
	FeatureRedisEventMirror:  false,
	FeatureReconcileJob:      true,
	FeatureVerification:      true,
}

// FeatureFlags is an immutable set of toggles resolved at startup.
type FeatureFlags struct {
	enabled map[string]bool
}

// LoadFeatureFlags reads FEATURES_ENABLED and FEATURES_DISABLED, both
// comma-separated flag names. Unknown names are ignored.
func LoadFeatureFlags() FeatureFlags {
	return NewFeatureFlags(
		getEnvStringSlice("FEATURES_ENABLED", nil),
		getEnvStringSlice("FEATURES_DISABLED", nil),
	)
}

// NewFeatureFlags applies overrides on top of the defaults. Disabling wins
// over enabling.
func NewFeatureFlags(enable, disable []string) FeatureFlags {
	flags := make(map[string]bool, len(defaultFeatures))
	for name, on := range defaultFeatures {
		flags[name] = on
	}
	for _, name := range enable {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, known := flags[name]; known {
			flags[name] = true
		}
	}
	for _, name := range disable {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, known := flags[name]; known {
			flags[name] = false
		}
	}
	return FeatureFlags{enabled: flags}
}

// IsEnabled reports whether the named feature is on.
func (f FeatureFlags) IsEnabled(name string) bool {
	if f.enabled == nil {
		return defaultFeatures[name]
	}
	return f.enabled[name]
}

// Enabled lists the enabled features in name order.
func (f FeatureFlags) Enabled() []string {
	names := make([]string, 0, len(defaultFeatures))
	for name := range defaultFeatures {
		if f.IsEnabled(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
