package sources

import (
	"context"

	apperrors "github.com/Stewart-Y/ABVTrends-sub000/pkg/errors"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/ingest"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/kafka"
)

// BatchFetcher is the part of *kafka.Consumer a KafkaSource needs.
type BatchFetcher interface {
	FetchBatch(ctx context.Context) (*kafka.Batch, error)
}

// KafkaSource drains a bounded batch from a topic each cycle. Offsets are
// committed only after the batch's signals are stored.
type KafkaSource struct {
	def      Definition
	consumer BatchFetcher
}

func NewKafkaSource(def Definition, consumer BatchFetcher) *KafkaSource {
	return &KafkaSource{def: def, consumer: consumer}
}

func (s *KafkaSource) Definition() Definition {
	return s.def
}

func (s *KafkaSource) Fetch(ctx context.Context) (*Fetched, error) {
	batch, err := s.consumer.FetchBatch(ctx)
	if err != nil {
		return nil, apperrors.NewAdapterError(s.def.ID, err, "failed to read topic")
	}
	records := make([]ingest.RawRecord, 0, len(batch.Records))
	for _, r := range batch.Records {
		records = append(records, ingest.RawRecord(r))
	}
	return &Fetched{Records: records, commit: batch.Commit}, nil
}
