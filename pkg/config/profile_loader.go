package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// JurisdictionProfile is a per-jurisdiction configuration profile. It
// selects which built-in validator to enable, carries operator-authored
// CEL rules, and sets the alerting and retention knobs for that
// jurisdiction.
type JurisdictionProfile struct {
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code"`
	// Validator names a built-in: "hipaa", "gdpr", "nmc" or "cel".
	Validator string `yaml:"validator" json:"validator"`
	// Rules are CEL expressions, by rule name, for the "cel" validator.
	Rules map[string]string `yaml:"rules,omitempty" json:"rules,omitempty"`
	// RuleSeverity is the severity attached when a CEL rule denies.
	RuleSeverity string          `yaml:"rule_severity,omitempty" json:"rule_severity,omitempty"`
	Alerting     AlertingConfig  `yaml:"alerting" json:"alerting"`
	Retention    RetentionConfig `yaml:"retention" json:"retention"`
}

// AlertingConfig sets the jurisdiction's alert thresholds.
type AlertingConfig struct {
	// MinSeverity is the lowest severity that produces an alert:
	// "INFO", "WARNING" or "CRITICAL".
	MinSeverity string `yaml:"min_severity" json:"min_severity"`
}

// RetentionConfig defines how long ledger evidence is kept.
type RetentionConfig struct {
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile loads a jurisdiction profile YAML by code. It searches
// the profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*JurisdictionProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile JurisdictionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the directory.
func LoadAllProfiles(profilesDir string) (map[string]*JurisdictionProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*JurisdictionProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile JurisdictionProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_us.yaml -> us
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
