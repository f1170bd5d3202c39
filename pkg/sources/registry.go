// Package sources holds the source registry and the adapters that fetch raw
// records from distributor feeds, listing pages, Kafka topics and fixtures.
package sources

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

const (
	KindHTTPJSON = "http_json"
	KindHTML     = "html"
	KindKafka    = "kafka"
	KindStatic   = "static"
)

// Definition is one source entry of the registry file.
type Definition struct {
	ID              string            `yaml:"id" validate:"required"`
	Name            string            `yaml:"name" validate:"required"`
	Tier            int               `yaml:"tier" validate:"oneof=1 2"`
	Kind            string            `yaml:"kind" validate:"required,oneof=http_json html kafka static"`
	Enabled         *bool             `yaml:"enabled"`
	SignalType      models.SignalType `yaml:"signal_type" validate:"required"`
	DefaultCategory string            `yaml:"default_category"`
	Fields          ingest.FieldMap   `yaml:"fields"`

	HTTP   *HTTPConfig   `yaml:"http" validate:"required_if=Kind http_json"`
	HTML   *HTMLConfig   `yaml:"html" validate:"required_if=Kind html"`
	Kafka  *KafkaConfig  `yaml:"kafka" validate:"required_if=Kind kafka"`
	Static *StaticConfig `yaml:"static" validate:"required_if=Kind static"`
}

func (d Definition) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Context is the ingest context for records fetched from this source.
func (d Definition) Context(fetchedAt time.Time) ingest.SourceContext {
	return ingest.SourceContext{
		SourceID:        d.ID,
		SignalType:      d.SignalType,
		DefaultCategory: d.DefaultCategory,
		Fields:          d.Fields,
		FetchedAt:       fetchedAt,
	}
}

// Model is the row stored in the distributors table.
func (d Definition) Model() models.Source {
	return models.Source{ID: d.ID, Name: d.Name, Tier: d.Tier, Kind: d.Kind, Enabled: d.IsEnabled()}
}

// Limits are the shared fetch protections for network sources.
type Limits struct {
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type HTTPConfig struct {
	URL     string            `yaml:"url" validate:"required,url"`
	Method  string            `yaml:"method" validate:"omitempty,oneof=GET POST"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	// RecordsPath is a JMESPath expression selecting the record array; empty
	// means the response body is the array.
	RecordsPath string `yaml:"records_path"`
	Limits      `yaml:",inline"`
}

type HTMLConfig struct {
	URL          string `yaml:"url" validate:"required,url"`
	ItemSelector string `yaml:"item_selector" validate:"required"`
	// Fields maps record keys to CSS selectors within an item. A selector of the
	// form "a.link@href" reads an attribute instead of text.
	Fields  map[string]string `yaml:"fields" validate:"required,min=1"`
	Headers map[string]string `yaml:"headers"`
	Limits  `yaml:",inline"`
}

type KafkaConfig struct {
	Topic    string        `yaml:"topic" validate:"required"`
	GroupID  string        `yaml:"group_id"`
	MaxBatch int           `yaml:"max_batch"`
	IdleWait time.Duration `yaml:"idle_wait"`
}

type StaticConfig struct {
	File    string           `yaml:"file"`
	Records []map[string]any `yaml:"records"`
	// Delay simulates a slow source.
	Delay time.Duration `yaml:"delay"`
	// Error makes every fetch fail with this message.
	Error string `yaml:"error"`
}

type registryFile struct {
	Sources []Definition `yaml:"sources"`
}

// Registry is the validated set of source definitions, ordered by id.
type Registry struct {
	defs  []Definition
	index map[string]int
}

var validate = validator.New()

// LoadRegistry reads and validates a registry file. Environment variables in the
// file are expanded before parsing.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source registry %s: %w", path, err)
	}
	return ParseRegistry([]byte(os.ExpandEnv(string(data))))
}

func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}
	return NewRegistry(file.Sources...)
}

func NewRegistry(defs ...Definition) (*Registry, error) {
	normalizer := ingest.NewNormalizer(nil)
	r := &Registry{index: make(map[string]int)}
	sorted := append([]Definition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, d := range sorted {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("source %q: %w", d.ID, err)
		}
		if !d.SignalType.Valid() {
			return nil, fmt.Errorf("source %q: unknown signal type %q", d.ID, d.SignalType)
		}
		if err := normalizer.ValidateFields(d.Fields); err != nil {
			return nil, fmt.Errorf("source %q: %w", d.ID, err)
		}
		if _, dup := r.index[d.ID]; dup {
			return nil, fmt.Errorf("source %q is defined twice", d.ID)
		}
		r.index[d.ID] = len(r.defs)
		r.defs = append(r.defs, d)
	}
	return r, nil
}

func (r *Registry) Get(id string) (Definition, bool) {
	i, ok := r.index[id]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// List returns every definition, enabled or not.
func (r *Registry) List() []Definition {
	return append([]Definition(nil), r.defs...)
}

func (r *Registry) Enabled() []Definition {
	var out []Definition
	for _, d := range r.defs {
		if d.IsEnabled() {
			out = append(out, d)
		}
	}
	return out
}
