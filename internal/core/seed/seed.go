// Package seed loads rules, escalation policies and suppressions from a YAML
// file and keeps them in sync when the file changes.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// File is the seed document.
type File struct {
	EscalationPolicies []*alerting.EscalationPolicy `yaml:"escalation_policies"`
	Rules              []*alerting.AlertRule        `yaml:"rules"`
	Suppressions       []*alerting.SuppressionRule  `yaml:"suppressions"`
}

// Store is where seeded entries are upserted.
type Store interface {
	SavePolicy(ctx context.Context, policy *alerting.EscalationPolicy) (*alerting.EscalationPolicy, error)
	SaveRule(ctx context.Context, rule *alerting.AlertRule) (*alerting.AlertRule, error)
	SaveSuppression(ctx context.Context, s *alerting.SuppressionRule) (*alerting.SuppressionRule, error)
}

// Parse decodes a seed document. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// Load reads and validates the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks every entry. Seeded entries need explicit IDs so that a
// reload updates them instead of creating duplicates.
func (f *File) Validate() error {
	problems := apperrors.NewConfigProblems("seed file")
	for i, p := range f.EscalationPolicies {
		if p.ID == "" {
			problems.Addf("escalation_policies[%d]: id is required", i)
		}
		p.SortLevels()
		problems.Merge(fmt.Sprintf("escalation_policies[%d]: ", i), p.Validate())
	}
	for i, r := range f.Rules {
		if r.ID == "" {
			problems.Addf("rules[%d]: id is required", i)
		}
		problems.Merge(fmt.Sprintf("rules[%d]: ", i), r.Validate())
	}
	for i, s := range f.Suppressions {
		if s.ID == "" {
			problems.Addf("suppressions[%d]: id is required", i)
		}
		problems.Merge(fmt.Sprintf("suppressions[%d]: ", i), s.Validate())
	}
	return problems.Err()
}

// Result counts applied entries.
type Result struct {
	Policies     int
	Rules        int
	Suppressions int
	Failed       int
}

// Apply upserts policies, then rules, then suppressions. A failing entry is
// logged and the rest are still applied.
func Apply(ctx context.Context, store Store, f *File, log *logrus.Logger) Result {
	var result Result
	for _, p := range f.EscalationPolicies {
		if _, err := store.SavePolicy(ctx, p); err != nil {
			log.WithError(err).WithField("policy_id", p.ID).Error("Failed to seed escalation policy")
			result.Failed++
			continue
		}
		result.Policies++
	}
	for _, r := range f.Rules {
		if _, err := store.SaveRule(ctx, r); err != nil {
			log.WithError(err).WithField("rule_id", r.ID).Error("Failed to seed rule")
			result.Failed++
			continue
		}
		result.Rules++
	}
	for _, s := range f.Suppressions {
		if _, err := store.SaveSuppression(ctx, s); err != nil {
			log.WithError(err).WithField("suppression_id", s.ID).Error("Failed to seed suppression")
			result.Failed++
			continue
		}
		result.Suppressions++
	}

	log.WithFields(logrus.Fields{
		"policies":     result.Policies,
		"rules":        result.Rules,
		"suppressions": result.Suppressions,
		"failed":       result.Failed,
	}).Info("Seed file applied")
	return result
}

// LoadAndApply loads path and applies it.
func LoadAndApply(ctx context.Context, store Store, path string, log *logrus.Logger) (Result, error) {
	f, err := Load(path)
	if err != nil {
		return Result{}, err
	}
	return Apply(ctx, store, f, log), nil
}
