package sources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/PuerkitoBio/goquery"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
)

// HTMLSource scrapes a listing page. Every element matching the item selector
// becomes one record whose keys are the configured field names.
type HTMLSource struct {
	def    Definition
	guard  *guard
	fields []htmlField
	logger ectologger.Logger
}

type htmlField struct {
	key      string
	selector string
	attr     string
}

func NewHTMLSource(def Definition, client *http.Client, logger ectologger.Logger) (*HTMLSource, error) {
	if def.HTML == nil {
		return nil, fmt.Errorf("source %q has no html block", def.ID)
	}
	return &HTMLSource{
		def:    def,
		guard:  newGuard(def.ID, def.HTML.Limits, client),
		fields: parseHTMLFields(def.HTML.Fields),
		logger: logger,
	}, nil
}

func parseHTMLFields(raw map[string]string) []htmlField {
	fields := make([]htmlField, 0, len(raw))
	for key, sel := range raw {
		f := htmlField{key: key, selector: strings.TrimSpace(sel)}
		if i := strings.LastIndex(f.selector, "@"); i >= 0 {
			f.attr = f.selector[i+1:]
			f.selector = strings.TrimSpace(f.selector[:i])
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })
	return fields
}

func (s *HTMLSource) Definition() Definition {
	return s.def
}

func (s *HTMLSource) BreakerState() string {
	return s.guard.State()
}

func (s *HTMLSource) Fetch(ctx context.Context) (*Fetched, error) {
	req, err := newRequest(http.MethodGet, s.def.HTML.URL, "", s.def.HTML.Headers)
	if err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "failed to build request")
	}
	body, err := s.guard.do(ctx, req)
	if err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "fetch failed")
	}

	records, err := parseHTML(bytes.NewReader(body), s.def.HTML.ItemSelector, s.fields)
	if err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "failed to parse page")
	}
	if len(records) == 0 && s.logger != nil {
		s.logger.WithContext(ctx).Warnf("Source %s: selector %q matched nothing", s.def.ID, s.def.HTML.ItemSelector)
	}
	return &Fetched{Records: records}, nil
}

// parseHTML extracts one record per item. Empty fields are left out so the field
// map's fallbacks still apply.
func parseHTML(r io.Reader, itemSelector string, fields []htmlField) ([]ingest.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var records []ingest.RawRecord
	doc.Find(itemSelector).Each(func(_ int, item *goquery.Selection) {
		record := ingest.RawRecord{}
		for _, f := range fields {
			sel := item
			if f.selector != "" {
				sel = item.Find(f.selector).First()
			}
			var value string
			if f.attr != "" {
				value, _ = sel.Attr(f.attr)
			} else {
				value = sel.Text()
			}
			value = strings.Join(strings.Fields(value), " ")
			if value != "" {
				record[f.key] = value
			}
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	})
	return records, nil
}
