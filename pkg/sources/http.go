package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectologger"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
)

// HTTPSource pulls a JSON document and selects its record array with JMESPath.
type HTTPSource struct {
	def       Definition
	guard     *guard
	evaluator *ingest.Evaluator
	logger    ectologger.Logger
}

func NewHTTPSource(def Definition, client *http.Client, logger ectologger.Logger) (*HTTPSource, error) {
	if def.HTTP == nil {
		return nil, fmt.Errorf("source %q has no http block", def.ID)
	}
	evaluator := ingest.NewEvaluator()
	if def.HTTP.RecordsPath != "" {
		if err := evaluator.Compile(def.HTTP.RecordsPath); err != nil {
			return nil, fmt.Errorf("source %q records_path: %w", def.ID, err)
		}
	}
	return &HTTPSource{
		def:       def,
		guard:     newGuard(def.ID, def.HTTP.Limits, client),
		evaluator: evaluator,
		logger:    logger,
	}, nil
}

func (s *HTTPSource) Definition() Definition {
	return s.def
}

func (s *HTTPSource) BreakerState() string {
	return s.guard.State()
}

func (s *HTTPSource) Fetch(ctx context.Context) (*Fetched, error) {
	cfg := s.def.HTTP
	req, err := newRequest(cfg.Method, cfg.URL, cfg.Body, cfg.Headers)
	if err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "failed to build request")
	}

	body, err := s.guard.do(ctx, req)
	if err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "fetch failed")
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "response is not JSON")
	}

	selected := doc
	if cfg.RecordsPath != "" {
		selected, err = s.evaluator.Evaluate(cfg.RecordsPath, doc)
		if err != nil {
			return nil, apperrors.NewAdapterError(s.def.ID, err, "records_path failed")
		}
	}

	list, isList := selected.([]any)
	if selected != nil && !isList {
		return nil, apperrors.NewAdapterError(s.def.ID, nil, "records_path did not select an array")
	}
	records, skipped := toRecords(list)
	if skipped > 0 && s.logger != nil {
		s.logger.WithContext(ctx).Warnf("Source %s returned %d non-object records, skipping them", s.def.ID, skipped)
	}
	return &Fetched{Records: records}, nil
}

// toRecords keeps the object elements of a decoded array.
func toRecords(list []any) ([]ingest.RawRecord, int) {
	records := make([]ingest.RawRecord, 0, len(list))
	skipped := 0
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		records = append(records, ingest.RawRecord(obj))
	}
	return records, skipped
}
