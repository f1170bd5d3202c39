package sources

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/kafka"
)

// Source fetches the current batch of raw records for one registry entry.
type Source interface {
	Definition() Definition
	Fetch(ctx context.Context) (*Fetched, error)
}

// Fetched is one batch of raw records. Commit acknowledges the batch upstream
// once its signals are stored; sources without acknowledgement ignore it.
type Fetched struct {
	Records []ingest.RawRecord
	commit  func(ctx context.Context) error
}

func (f *Fetched) Commit(ctx context.Context) error {
	if f == nil || f.commit == nil {
		return nil
	}
	return f.commit(ctx)
}

// Dependencies are the shared clients handed to adapters when they are built.
type Dependencies struct {
	HTTPClient   *http.Client
	KafkaBrokers []string
	BaseDir      string
	Logger       ectologger.Logger
}

// Set builds adapters on first use and keeps them for the life of the process
// so breakers, limiters and consumer groups persist across cycles.
type Set struct {
	registry *Registry
	deps     Dependencies

	mu       sync.Mutex
	adapters map[string]Source
	closers  []func() error
}

func NewSet(registry *Registry, deps Dependencies) *Set {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	return &Set{registry: registry, deps: deps, adapters: make(map[string]Source)}
}

func (s *Set) Registry() *Registry {
	return s.registry
}

// Register installs a prebuilt adapter, replacing whatever the registry would build.
func (s *Set) Register(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapters[src.Definition().ID] = src
}

func (s *Set) Get(id string) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if src, ok := s.adapters[id]; ok {
		return src, nil
	}
	def, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", id)
	}
	src, closer, err := build(def, s.deps)
	if err != nil {
		return nil, err
	}
	s.adapters[id] = src
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	return src, nil
}

func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

func build(def Definition, deps Dependencies) (Source, func() error, error) {
	switch def.Kind {
	case KindHTTPJSON:
		src, err := NewHTTPSource(def, deps.HTTPClient, deps.Logger)
		return src, nil, err
	case KindHTML:
		src, err := NewHTMLSource(def, deps.HTTPClient, deps.Logger)
		return src, nil, err
	case KindKafka:
		cfg := kafka.DefaultConsumerConfig()
		cfg.Brokers = deps.KafkaBrokers
		cfg.Topic = def.Kafka.Topic
		cfg.GroupID = def.Kafka.GroupID
		if cfg.GroupID == "" {
			cfg.GroupID = "abvtrends-" + def.ID
		}
		if def.Kafka.MaxBatch > 0 {
			cfg.MaxBatch = def.Kafka.MaxBatch
		}
		if def.Kafka.IdleWait > 0 {
			cfg.IdleWait = def.Kafka.IdleWait
		}
		consumer, err := kafka.NewConsumer(cfg, deps.Logger)
		if err != nil {
			return nil, nil, err
		}
		return NewKafkaSource(def, consumer), consumer.Close, nil
	case KindStatic:
		src, err := NewStaticSource(def, deps.BaseDir)
		return src, nil, err
	}
	return nil, nil, fmt.Errorf("source %q has unsupported kind %q", def.ID, def.Kind)
}
