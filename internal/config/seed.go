package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/classify"
)

// SeedFile is the parsed shape of a seed.yaml: rules and leases for a
// workspace, applied each time serve starts with a seed file set,
// independent of the viper-loaded server
// config (spec §9 "[AMBIENT] Configuration").
type SeedFile struct {
	Workspace string      `yaml:"workspace"`
	Rules     []SeedRule  `yaml:"rules"`
	Leases    []SeedLease `yaml:"leases"`
}

// SeedRule is one PolicyRule entry in seed.yaml.
type SeedRule struct {
	Name            string `yaml:"name"`
	Priority        int    `yaml:"priority"`
	Enabled         *bool  `yaml:"enabled"`
	Effect          string `yaml:"effect"`
	ActionClass     string `yaml:"action_class"`
	UpstreamID      string `yaml:"upstream_id"`
	ToolName        string `yaml:"tool_name"`
	DomainPattern   string `yaml:"domain_pattern"`
	DomainMatchType string `yaml:"domain_match_type"`
	Recipient       string `yaml:"recipient"`
	SmartCondition  string `yaml:"smart_condition"`
}

// SeedLease is one PolicyLease entry in seed.yaml.
type SeedLease struct {
	Creator         string `yaml:"creator"`
	ActionClass     string `yaml:"action_class"`
	UpstreamID      string `yaml:"upstream_id"`
	ToolName        string `yaml:"tool_name"`
	DomainPattern   string `yaml:"domain_pattern"`
	DomainMatchType string `yaml:"domain_match_type"`
	Recipient       string `yaml:"recipient"`
	DurationMinutes int    `yaml:"duration_minutes"`
}

// LoadSeedFile reads and parses a seed.yaml at path.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &seed, nil
}

// Apply inserts the seed's rules and leases into store for its workspace,
// stamping IDs and creation times the way an admin API call would.
func (s *SeedFile) Apply(ctx context.Context, store authz.Store, now time.Time) error {
	if s.Workspace == "" {
		return fmt.Errorf("seed file: workspace is required")
	}

	for _, r := range s.Rules {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		matchType := authz.MatchExact
		if r.DomainMatchType == string(authz.MatchSuffix) {
			matchType = authz.MatchSuffix
		}
		rule := &authz.Rule{
			ID:              uuid.NewString(),
			Workspace:       s.Workspace,
			Name:            r.Name,
			Priority:        r.Priority,
			Enabled:         enabled,
			Effect:          authz.Effect(r.Effect),
			ActionClass:     classify.ActionClass(r.ActionClass),
			UpstreamID:      r.UpstreamID,
			ToolName:        r.ToolName,
			DomainPattern:   r.DomainPattern,
			DomainMatchType: matchType,
			Recipient:       r.Recipient,
			SmartCondition:  r.SmartCondition,
			CreatedAt:       now,
		}
		if err := store.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("seed rule %q: %w", r.Name, err)
		}
	}

	for i, l := range s.Leases {
		matchType := authz.MatchExact
		if l.DomainMatchType == string(authz.MatchSuffix) {
			matchType = authz.MatchSuffix
		}
		lease := &authz.Lease{
			ID:              uuid.NewString(),
			Workspace:       s.Workspace,
			Creator:         l.Creator,
			ActionClass:     classify.ActionClass(l.ActionClass),
			UpstreamID:      l.UpstreamID,
			ToolName:        l.ToolName,
			DomainPattern:   l.DomainPattern,
			DomainMatchType: matchType,
			Recipient:       l.Recipient,
			ExpiresAt:       now.Add(time.Duration(l.DurationMinutes) * time.Minute),
			CreatedAt:       now,
		}
		if err := store.SaveLease(ctx, lease); err != nil {
			return fmt.Errorf("seed lease [%d]: %w", i, err)
		}
	}

	return nil
}
