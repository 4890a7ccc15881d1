package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ScannerProfile describes the scaffolding every generated scanner is
// expected to carry: imports, methods, constructor parameters, and the column
// vocabulary of the historical-data frames. The defaults match the standard
// scanner template; alternate templates ship their own profile file.
type ScannerProfile struct {
	RequiredImports []string `yaml:"required_imports"` // module names, e.g. pandas
	RequiredMethods []string `yaml:"required_methods"`
	DateParams      []string `yaml:"date_params"`      // the two date-range constructor params
	ParamsContainer string   `yaml:"params_container"` // e.g. self.params
	BaseColumns     []string `yaml:"base_columns"`     // columns present in every data frame
	KnownParams     []string `yaml:"known_params"`     // tunables expected to route through the container
	SingleEvidence  []string `yaml:"single_evidence"`  // markers of parallel per-ticker fetching
	FeatureMethod   string   `yaml:"feature_method"`   // method holding feature assignments
}

// NewProfileWithDefaults returns the built-in profile for the standard
// scanner template (testing/fallback).
func NewProfileWithDefaults() *ScannerProfile {
	return &ScannerProfile{
		RequiredImports: []string{"pandas", "numpy"},
		RequiredMethods: []string{"fetch_data", "compute_features", "apply_filters", "run"},
		DateParams:      []string{"start_date", "end_date"},
		ParamsContainer: "self.params",
		BaseColumns:     []string{"ticker", "date", "open", "high", "low", "close", "volume", "adj_close"},
		KnownParams:     []string{"min_gap_pct", "min_volume", "min_price", "min_pct_change", "lookback_days"},
		SingleEvidence:  []string{"ThreadPoolExecutor", "concurrent.futures"},
		FeatureMethod:   "compute_features",
	}
}

// LoadProfile loads a scanner profile from YAML file.
func LoadProfile(profilePath string) (*ScannerProfile, error) {
	if profilePath == "" {
		profilePath = filepath.Join("config", "scanner_profile.yaml")
	}

	data, err := os.ReadFile(profilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", profilePath, err)
	}

	var profile ScannerProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}

	if err := validateProfile(&profile); err != nil {
		return nil, fmt.Errorf("invalid scanner profile: %w", err)
	}

	return &profile, nil
}

// validateProfile ensures a profile can actually drive the validators.
func validateProfile(profile *ScannerProfile) error {
	if len(profile.RequiredImports) == 0 {
		return fmt.Errorf("required_imports must not be empty")
	}
	if len(profile.RequiredMethods) == 0 {
		return fmt.Errorf("required_methods must not be empty")
	}
	if len(profile.DateParams) != 2 {
		return fmt.Errorf("date_params must name exactly 2 parameters, got %d", len(profile.DateParams))
	}
	if profile.ParamsContainer == "" {
		return fmt.Errorf("params_container is required")
	}
	if len(profile.BaseColumns) == 0 {
		return fmt.Errorf("base_columns must not be empty")
	}
	if profile.FeatureMethod == "" {
		return fmt.Errorf("feature_method is required")
	}

	found := false
	for _, m := range profile.RequiredMethods {
		if m == profile.FeatureMethod {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("feature_method %q must be one of required_methods", profile.FeatureMethod)
	}

	return nil
}
