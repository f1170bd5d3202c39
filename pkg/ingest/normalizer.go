// Package ingest turns raw source records into RawSignals. Normalization never
// fails a batch: bad fields are blanked and listed on the signal instead.
package ingest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

// RawRecord is one decoded record as produced by a source adapter.
type RawRecord map[string]any

// FieldMap holds the JMESPath expression used to extract each canonical field.
type FieldMap struct {
	ProductName string `yaml:"product_name"`
	Brand       string `yaml:"brand"`
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory"`
	ExternalID  string `yaml:"external_id"`
	Title       string `yaml:"title"`
	URL         string `yaml:"url"`
	Value       string `yaml:"value"`
	Currency    string `yaml:"currency"`
	CapturedAt  string `yaml:"captured_at"`
	SignalType  string `yaml:"signal_type"`
}

// DefaultFieldMap covers the common field spellings seen across feeds.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		ProductName: "product_name || name || productName",
		Brand:       "brand || producer",
		Category:    "category",
		Subcategory: "subcategory || style",
		ExternalID:  "external_id || sku || id",
		Title:       "title || headline",
		URL:         "url || link",
		Value:       "value || price || quantity || interest || engagement",
		Currency:    "currency",
		CapturedAt:  "captured_at || timestamp || published_at || date",
		SignalType:  "signal_type",
	}
}

// Merge fills every empty expression in f from defaults.
func (f FieldMap) Merge(defaults FieldMap) FieldMap {
	pick := func(v, d string) string {
		if v != "" {
			return v
		}
		return d
	}
	return FieldMap{
		ProductName: pick(f.ProductName, defaults.ProductName),
		Brand:       pick(f.Brand, defaults.Brand),
		Category:    pick(f.Category, defaults.Category),
		Subcategory: pick(f.Subcategory, defaults.Subcategory),
		ExternalID:  pick(f.ExternalID, defaults.ExternalID),
		Title:       pick(f.Title, defaults.Title),
		URL:         pick(f.URL, defaults.URL),
		Value:       pick(f.Value, defaults.Value),
		Currency:    pick(f.Currency, defaults.Currency),
		CapturedAt:  pick(f.CapturedAt, defaults.CapturedAt),
		SignalType:  pick(f.SignalType, defaults.SignalType),
	}
}

// SourceContext describes the source a record came from.
type SourceContext struct {
	SourceID        string
	SignalType      models.SignalType
	DefaultCategory string
	Fields          FieldMap
	FetchedAt       time.Time
}

type Normalizer struct {
	evaluator *Evaluator
	logger    ectologger.Logger
}

func NewNormalizer(logger ectologger.Logger) *Normalizer {
	return &Normalizer{evaluator: NewEvaluator(), logger: logger}
}

// ValidateFields compiles every expression in fields, reporting the first bad one.
func (n *Normalizer) ValidateFields(fields FieldMap) error {
	for name, expr := range fieldExpressions(fields) {
		if expr == "" {
			continue
		}
		if err := n.evaluator.Compile(expr); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

func fieldExpressions(f FieldMap) map[string]string {
	return map[string]string{
		"product_name": f.ProductName,
		"brand":        f.Brand,
		"category":     f.Category,
		"subcategory":  f.Subcategory,
		"external_id":  f.ExternalID,
		"title":        f.Title,
		"url":          f.URL,
		"value":        f.Value,
		"currency":     f.Currency,
		"captured_at":  f.CapturedAt,
		"signal_type":  f.SignalType,
	}
}

// RequiresValue reports signal types whose numeric value carries the observation.
func RequiresValue(t models.SignalType) bool {
	switch t {
	case models.SignalPrice, models.SignalInventory, models.SignalSearch, models.SignalSocial:
		return true
	}
	return false
}

// Normalize maps one record onto a RawSignal. It is pure apart from logging.
func (n *Normalizer) Normalize(ctx context.Context, record RawRecord, src SourceContext) models.RawSignal {
	fields := src.Fields.Merge(DefaultFieldMap())
	data := map[string]any(record)
	var malformed []string

	text := func(field, expr string) string {
		v, err := n.evaluator.Evaluate(expr, data)
		if err != nil {
			malformed = append(malformed, field)
			return ""
		}
		s, ok := asString(v)
		if !ok {
			malformed = append(malformed, field)
			return ""
		}
		return strings.TrimSpace(s)
	}

	signal := models.RawSignal{
		SourceID: src.SourceID,
		Payload:  database.NewJSONB(data),
	}

	signal.SignalType = src.SignalType
	if raw := text("signal_type", fields.SignalType); raw != "" {
		if t := models.SignalType(strings.ToLower(raw)); t.Valid() {
			signal.SignalType = t
		} else {
			malformed = append(malformed, "signal_type")
		}
	}

	signal.ProductName = text("product_name", fields.ProductName)
	signal.Brand = optional(text("brand", fields.Brand))
	signal.Subcategory = optional(text("subcategory", fields.Subcategory))
	signal.ExternalID = optional(text("external_id", fields.ExternalID))
	signal.Title = optional(text("title", fields.Title))
	signal.URL = optional(text("url", fields.URL))
	signal.Currency = optional(strings.ToUpper(text("currency", fields.Currency)))

	signal.Category = text("category", fields.Category)
	if signal.Category == "" {
		signal.Category = src.DefaultCategory
	}
	if signal.Category != "" {
		if c, ok := models.ParseCategory(signal.Category); ok {
			signal.Category = string(c)
		} else {
			malformed = append(malformed, "category")
		}
	}

	rawValue, err := n.evaluator.Evaluate(fields.Value, data)
	if err != nil {
		malformed = append(malformed, "value")
	} else if rawValue != nil {
		if v, ok := asFloat(rawValue); ok {
			signal.Value = &v
		} else {
			malformed = append(malformed, "value")
		}
	}
	if signal.Value == nil && RequiresValue(signal.SignalType) && !contains(malformed, "value") {
		malformed = append(malformed, "value")
	}

	rawCaptured, err := n.evaluator.Evaluate(fields.CapturedAt, data)
	capturedKey := ""
	if err == nil && rawCaptured != nil {
		capturedKey = fmt.Sprint(rawCaptured)
	}
	if ts, ok := asTime(rawCaptured); err == nil && ok {
		signal.CapturedAt = ts
	} else {
		signal.CapturedAt = src.FetchedAt.UTC()
		malformed = append(malformed, "captured_at")
	}

	if signal.ProductName == "" && signal.ExternalID == nil && !contains(malformed, "product_name") {
		malformed = append(malformed, "product_name")
	}

	externalID := ""
	if signal.ExternalID != nil {
		externalID = *signal.ExternalID
	}
	signal.ID = Fingerprint(src.SourceID, externalID, string(signal.SignalType), capturedKey, data)
	signal.MalformedFields = malformed

	log := n.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id":        src.SourceID,
		"signal_id":        signal.ID,
		"signal_type":      signal.SignalType,
		"malformed_fields": malformed,
	})
	if len(malformed) > 0 {
		log.Warn("Normalized record with malformed fields")
	} else {
		log.Debug("Normalized record")
	}

	return signal
}

// NormalizeBatch normalizes every record; one bad record never drops the others.
func (n *Normalizer) NormalizeBatch(ctx context.Context, records []RawRecord, src SourceContext) []models.RawSignal {
	signals := make([]models.RawSignal, 0, len(records))
	for _, record := range records {
		signals = append(signals, n.Normalize(ctx, record, src))
	}
	return signals
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func asString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

var numericNoise = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "", "\u00a0", "")

func asFloat(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case string:
		parsed, err := strconv.ParseFloat(numericNoise.Replace(strings.TrimSpace(val)), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

func asTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if epoch, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(epoch), true
		}
	case float64:
		return fromEpoch(val), true
	case int64:
		return fromEpoch(float64(val)), true
	case int:
		return fromEpoch(float64(val)), true
	}
	return time.Time{}, false
}

// fromEpoch accepts seconds or milliseconds since the Unix epoch.
func fromEpoch(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
