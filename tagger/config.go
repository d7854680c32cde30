package tagger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// ErrMalformedReplacement is returned when a configured replacement is not a
// [pattern, replacement] pair.
var ErrMalformedReplacement = errors.New("tagger: replacement must be a [pattern, replacement] pair")

// Config is the deployment configuration of a Tagger. It is read once at
// startup, from the environment or from YAML.
//
// Environment:
//
//	SQL_TAGGER_CODE_ROOT=/srv/app
//	SQL_TAGGER_PATH_REPLACEMENTS='[["^internal/","i/"],["_store\\.go$",".s"]]'
//
// YAML:
//
//	code_root: /srv/app
//	path_replacements:
//	  - ["^internal/", "i/"]
type Config struct {
	CodeRoot         string       `env:"SQL_TAGGER_CODE_ROOT" yaml:"code_root"`
	PathReplacements Replacements `env:"SQL_TAGGER_PATH_REPLACEMENTS" yaml:"path_replacements"`
}

// Replacements is an ordered list of path rewrites.
type Replacements []Replacement

// EnvDecode decodes a JSON array of [pattern, replacement] pairs.
func (r *Replacements) EnvDecode(val string) error {
	if strings.TrimSpace(val) == "" {
		*r = nil
		return nil
	}
	var out []Replacement
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return fmt.Errorf("tagger: decode path replacements: %w", err)
	}
	*r = out
	return nil
}

// UnmarshalJSON decodes a [pattern, replacement] pair.
func (r *Replacement) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedReplacement, err)
	}
	return r.fromPair(pair)
}

// UnmarshalYAML decodes a [pattern, replacement] pair.
func (r *Replacement) UnmarshalYAML(node *yaml.Node) error {
	var pair []string
	if err := node.Decode(&pair); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedReplacement, err)
	}
	return r.fromPair(pair)
}

func (r *Replacement) fromPair(pair []string) error {
	if len(pair) != 2 {
		return fmt.Errorf("%w: got %d elements", ErrMalformedReplacement, len(pair))
	}
	r.Pattern, r.Replacement = pair[0], pair[1]
	return nil
}

// LoadConfig reads Config from the process environment.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("tagger: load config: %w", err)
	}
	return cfg, nil
}

// LoadConfigWith reads Config through l, e.g. envconfig.MapLookuper in tests.
func LoadConfigWith(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return Config{}, fmt.Errorf("tagger: load config: %w", err)
	}
	return cfg, nil
}

// ParseConfigYAML decodes Config from a YAML document.
func ParseConfigYAML(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("tagger: parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the code root is set and every pattern compiles.
func (c Config) Validate() error {
	_, err := NewPathNormalizer(c.CodeRoot, c.PathReplacements)
	return err
}
