// Package config loads and validates the three JSON configuration
// directories (networks/, monitors/, triggers/) that drive a run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Param describes one typed, optionally indexed argument in a contract spec.
type Param struct {
	Name    string `json:"name" validate:"required"`
	Type    string `json:"type" validate:"required"`
	Indexed bool   `json:"indexed,omitempty"`
}

// FunctionSpec is one ABI-like function signature entry in a contract spec.
type FunctionSpec struct {
	Name   string  `json:"name" validate:"required"`
	Inputs []Param `json:"inputs"`
}

// EventSpec is one ABI-like event signature entry in a contract spec.
type EventSpec struct {
	Name   string  `json:"name" validate:"required"`
	Inputs []Param `json:"inputs"`
}

// ContractSpec is the ABI-like description attached to a watched address.
type ContractSpec struct {
	Functions []FunctionSpec `json:"functions,omitempty"`
	Events    []EventSpec    `json:"events,omitempty"`
}

// WatchedAddress is one address a monitor filters on, with an optional
// decoding spec.
type WatchedAddress struct {
	Address  string        `json:"address" validate:"required"`
	Contract *ContractSpec `json:"contract,omitempty"`
}

// ConditionSpec is a `{signature, expression?}` entry in match_conditions.
type ConditionSpec struct {
	Signature  string `json:"signature" validate:"required"`
	Expression string `json:"expression,omitempty"`
}

// TransactionCondition is a transaction-level match_conditions entry.
type TransactionCondition struct {
	Status     string `json:"status,omitempty"` // Success|Failure|any, default any
	Expression string `json:"expression,omitempty"`
}

// MatchConditions holds the three parallel condition arrays of a monitor.
type MatchConditions struct {
	Functions    []ConditionSpec        `json:"functions,omitempty"`
	Events       []ConditionSpec        `json:"events,omitempty"`
	Transactions []TransactionCondition `json:"transactions,omitempty"`
}

// ScriptRef references an external gating script for the Trigger
// Condition Runner.
type ScriptRef struct {
	Path      string   `json:"path" validate:"required"`
	Language  string   `json:"language" validate:"required,oneof=bash python js"`
	Args      []string `json:"args,omitempty"`
	TimeoutMs int      `json:"timeout_ms" validate:"required,gt=0"`
}

// RPCEndpoint is one weighted RPC endpoint for a network.
type RPCEndpoint struct {
	URL    string `json:"url" validate:"required"`
	Weight int    `json:"weight,omitempty"`
}

// Network is one monitored chain.
type Network struct {
	Slug              string        `json:"slug" validate:"required"`
	ChainFamily       string        `json:"chain_family" validate:"required,oneof=evm stellar algorand"`
	Endpoints         []RPCEndpoint `json:"endpoints" validate:"required,min=1,dive"`
	ConfirmationDepth uint64        `json:"confirmation_depth"`
	PollIntervalMs    int           `json:"poll_interval_ms" validate:"required,gt=0"`
	MaxBlockRange     uint64        `json:"max_block_range" validate:"required,gt=0"`
	RequestTimeoutMs  int           `json:"request_timeout_ms" validate:"required,gt=0"`
	StartBlock        string        `json:"start_block,omitempty"`
	IndexerURL        string        `json:"indexer_url,omitempty"` // algorand-family only
}

// Monitor is one named match rule.
type Monitor struct {
	Name              string           `json:"name" validate:"required"`
	Paused            bool             `json:"paused,omitempty"`
	Networks          []string         `json:"networks" validate:"required,min=1"`
	Addresses         []WatchedAddress `json:"addresses,omitempty"`
	MatchConditions   MatchConditions  `json:"match_conditions"`
	TriggerConditions []ScriptRef      `json:"trigger_conditions,omitempty"`
	Triggers          []string         `json:"triggers" validate:"required,min=1"`
}

// Trigger is one named notification sink, variant-tagged by Type.
type Trigger struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=slack email discord telegram webhook script database"`
	Template string `json:"template,omitempty"`

	// slack / discord / webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// email
	SMTPHost string   `json:"smtp_host,omitempty"`
	SMTPPort int      `json:"smtp_port,omitempty"`
	From     string   `json:"from,omitempty"`
	To       []string `json:"to,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`

	// telegram
	BotToken string `json:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`

	// script
	ScriptPath string   `json:"script_path,omitempty"`
	Language   string   `json:"language,omitempty"`
	Args       []string `json:"args,omitempty"`
	TimeoutMs  int      `json:"timeout_ms,omitempty"`

	// database
	ConnectionString string            `json:"connection_string,omitempty"`
	TableName         string            `json:"table_name,omitempty"`
	AdditionalFields  map[string]string `json:"additional_fields,omitempty"`
}

// Config is the fully loaded, cross-reference-validated configuration.
type Config struct {
	Networks []Network `json:"-"`
	Monitors []Monitor `json:"-"`
	Triggers []Trigger `json:"-"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validate = validator.New()

// Load reads networks/, monitors/, and triggers/ under dir, interpolates
// env vars, validates struct tags, then resolves and validates
// cross-references. Any error here is fatal at startup (spec §7).
func Load(dir string) (*Config, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory is required")
	}

	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}

	networks, err := loadDir[Network](filepath.Join(dir, "networks"))
	if err != nil {
		return nil, fmt.Errorf("load networks: %w", err)
	}
	monitors, err := loadDir[Monitor](filepath.Join(dir, "monitors"))
	if err != nil {
		return nil, fmt.Errorf("load monitors: %w", err)
	}
	triggers, err := loadDir[Trigger](filepath.Join(dir, "triggers"))
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}

	cfg := &Config{Networks: networks, Monitors: monitors, Triggers: triggers}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

// loadDir reads every *.json file in dir (in sorted order, for
// deterministic duplicate-detection messages), interpolating env vars
// and rejecting unknown fields.
func loadDir[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]T, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		interpolated, err := interpolateEnv(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		var item T
		dec := json.NewDecoder(strings.NewReader(interpolated))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&item); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if err := validate.Struct(item); err != nil {
			return nil, fmt.Errorf("validate %s: %w", path, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func interpolateEnv(input string) (string, error) {
	var missing []string
	seen := map[string]struct{}{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			missing = append(missing, name)
		}
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Validate performs the cross-reference checks no struct-tag validator
// can express: unique slugs/names, and that every monitor's network
// and trigger references resolve (spec §3 Invariants).
func (c *Config) Validate() error {
	networkSlugs := map[string]Network{}
	for _, n := range c.Networks {
		if _, dup := networkSlugs[n.Slug]; dup {
			return fmt.Errorf("duplicate network slug: %s", n.Slug)
		}
		networkSlugs[n.Slug] = n
	}

	triggerNames := map[string]Trigger{}
	for _, t := range c.Triggers {
		if _, dup := triggerNames[t.Name]; dup {
			return fmt.Errorf("duplicate trigger name: %s", t.Name)
		}
		triggerNames[t.Name] = t
	}

	monitorNames := map[string]struct{}{}
	for _, m := range c.Monitors {
		if _, dup := monitorNames[m.Name]; dup {
			return fmt.Errorf("duplicate monitor name: %s", m.Name)
		}
		monitorNames[m.Name] = struct{}{}

		for _, slug := range m.Networks {
			if _, ok := networkSlugs[slug]; !ok {
				return fmt.Errorf("monitor %s: unknown network %s", m.Name, slug)
			}
		}
		for _, trig := range m.Triggers {
			if _, ok := triggerNames[trig]; !ok {
				return fmt.Errorf("monitor %s: unknown trigger %s", m.Name, trig)
			}
		}
		if err := validateExpressions(m); err != nil {
			return fmt.Errorf("monitor %s: %w", m.Name, err)
		}
	}

	return nil
}

// NetworksBySlug indexes networks by slug for callers that need lookup.
func (c *Config) NetworksBySlug() map[string]Network {
	out := make(map[string]Network, len(c.Networks))
	for _, n := range c.Networks {
		out[n.Slug] = n
	}
	return out
}

// TriggersByName indexes triggers by name for callers that need lookup.
func (c *Config) TriggersByName() map[string]Trigger {
	out := make(map[string]Trigger, len(c.Triggers))
	for _, t := range c.Triggers {
		out[t.Name] = t
	}
	return out
}

// MonitorsForNetwork returns every non-paused monitor applicable to slug.
func (c *Config) MonitorsForNetwork(slug string) []Monitor {
	var out []Monitor
	for _, m := range c.Monitors {
		if m.Paused {
			continue
		}
		for _, n := range m.Networks {
			if n == slug {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
