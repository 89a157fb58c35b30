package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
)

const offsetsPrefix = "offsets:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type offsetDocument struct {
	Topic      string              `json:"topic"`
	Partitions []partitionDocument `json:"partitions"`
}

type partitionDocument struct {
	Partition int             `json:"partition"`
	Ranges    []rangeDocument `json:"ranges"`
}

type rangeDocument struct {
	From         int64     `json:"from"`
	To           int64     `json:"to"`
	LastModified time.Time `json:"lastModified"`
}

// Offsets persists the processed offsets of each topic as one JSON document
// under key "offsets:<topic>".
type Offsets struct {
	store *Store
}

func NewOffsets(store *Store) *Offsets {
	return &Offsets{store: store}
}

// Read returns an empty set when nothing was stored for topic.
func (o *Offsets) Read(_ context.Context, topic string) (*offsets.OffsetRangeSet, error) {
	set := offsets.NewOffsetRangeSet()
	data, err := o.store.Get(offsetsPrefix + topic)
	if errors.Is(err, ErrNotFound) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offsets of %s: %w", topic, err)
	}

	var doc offsetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode offsets of %s: %w", topic, err)
	}
	for _, p := range doc.Partitions {
		tp := offsets.TopicPartition{Topic: topic, Partition: p.Partition}
		for _, r := range p.Ranges {
			if r.From > r.To {
				return nil, fmt.Errorf("decode offsets of %s: invalid range [%d,%d]", topic, r.From, r.To)
			}
			if err := set.Add(offsets.OffsetRange{
				TopicPartition: tp,
				Range:          offsets.Range{From: r.From, To: r.To, LastModified: r.LastModified},
			}); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

func (o *Offsets) Write(_ context.Context, topic string, set *offsets.OffsetRangeSet) error {
	doc := offsetDocument{Topic: topic}
	set.Ranges(func(tp offsets.TopicPartition, r offsets.Range) {
		if tp.Topic != topic {
			return
		}
		n := len(doc.Partitions)
		if n == 0 || doc.Partitions[n-1].Partition != tp.Partition {
			doc.Partitions = append(doc.Partitions, partitionDocument{Partition: tp.Partition})
			n++
		}
		doc.Partitions[n-1].Ranges = append(doc.Partitions[n-1].Ranges, rangeDocument{
			From:         r.From,
			To:           r.To,
			LastModified: r.LastModified,
		})
	})

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode offsets of %s: %w", topic, err)
	}
	if err := o.store.Put(offsetsPrefix+topic, data, 0); err != nil {
		return fmt.Errorf("write offsets of %s: %w", topic, err)
	}
	return nil
}

// Topics lists every topic with stored offsets in key order.
func (o *Offsets) Topics(_ context.Context) ([]string, error) {
	var topics []string
	err := o.store.ForEach(offsetsPrefix, func(key string, _ []byte) error {
		topics = append(topics, key)
		return nil
	})
	return topics, err
}
