// Package notify publishes the outcome of each restructuring pass so that
// downstream jobs can pick up new output.
package notify

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/siqueiraa/kaflow-restructure/pkg/config"
	"github.com/siqueiraa/kaflow-restructure/pkg/metrics"
)

const (
	batchTimeoutMillis = 100 // Batch timeout in milliseconds
	writeTimeoutSecs   = 10  // Batch write timeout in seconds
	passKey            = "pass"
)

// jsonFast is our high-performance JSON API.
var jsonFast = jsoniter.ConfigFastest

// TopicReport is the outcome of one topic within a pass.
type TopicReport struct {
	Topic   string `json:"topic"`
	Files   int64  `json:"files"`
	Records int64  `json:"records"`
	Skipped int64  `json:"skipped"`
	Failed  int64  `json:"failed"`
	// Locked is true when another process held the topic.
	Locked bool `json:"locked,omitempty"`
}

// Report is everything published after a pass.
type Report struct {
	Summary metrics.Summary `json:"summary"`
	Topics  []TopicReport   `json:"topics"`
}

type Notifier interface {
	Notify(ctx context.Context, r Report) error
	Close() error
}

// Nop is used when notifications are disabled.
type Nop struct{}

func (Nop) Notify(context.Context, Report) error { return nil }
func (Nop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per topic, keyed by topic name, followed by
// the pass summary keyed "pass".
type Kafka struct {
	writer messageWriter
	topic  string
	logger logrus.FieldLogger
}

func New(cfg config.NotifyConfig, logger logrus.FieldLogger) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeoutMillis * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafka(w, cfg.Topic, logger)
}

func newKafka(w messageWriter, topic string, logger logrus.FieldLogger) *Kafka {
	return &Kafka{
		writer: w,
		topic:  topic,
		logger: logger.WithField("notify", topic),
	}
}

type topicMessage struct {
	Started time.Time `json:"started"`
	TopicReport
}

func (k *Kafka) Notify(ctx context.Context, r Report) error {
	// Reserve exact capacity → no slice growth during append
	msgs := make([]kafka.Message, 0, len(r.Topics)+1)
	now := time.Now()

	for _, t := range r.Topics {
		payload, err := jsonFast.Marshal(topicMessage{Started: r.Summary.Started, TopicReport: t})
		if err != nil {
			k.logger.WithError(err).WithField("topic", t.Topic).Warn("encode topic report")
			continue // drop the faulty report, continue with the rest
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.Topic), Value: payload, Time: now})
	}

	payload, err := jsonFast.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("encode pass summary: %w", err)
	}
	msgs = append(msgs, kafka.Message{Key: []byte(passKey), Value: payload, Time: now})

	ctx, cancel := context.WithTimeout(ctx, writeTimeoutSecs*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish pass report to %s: %w", k.topic, err)
	}
	k.logger.WithField("messages", len(msgs)).Debug("published pass report")
	return nil
}

// Close shuts down the writer cleanly.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
