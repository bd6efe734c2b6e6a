package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/shortontech/surveyguard/internal/response"
)

const schemaVersion = "scored_response.v1"

var errProducerNotStarted = errors.New("kafka producer not initialized")

// KafkaConfig holds configuration for Kafka producer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Acks        string
	Compression string

	// SASL config
	SASLMechanism string
	SASLUser      string
	SASLPassword  string

	// TLS config
	TLSCAPath     string
	TLSSkipVerify bool
}

// KafkaSink produces scored responses keyed by response id, so a
// compacted topic keeps one verdict per response.
type KafkaSink struct {
	config   KafkaConfig
	producer *kafka.Producer
	inst     instruments
}

// NewKafkaSinkFromEnv creates a KafkaSink from environment variables
func NewKafkaSinkFromEnv(opts ...Option) *KafkaSink {
	brokersStr := getEnvOr("KAFKA_BROKERS", "localhost:9092")
	brokers := strings.Split(brokersStr, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	config := KafkaConfig{
		Brokers:       brokers,
		Topic:         getEnvOr("KAFKA_TOPIC", "surveyguard.responses"),
		Acks:          getEnvOr("KAFKA_ACKS", "all"),
		Compression:   os.Getenv("KAFKA_COMPRESSION"),
		SASLMechanism: os.Getenv("KAFKA_SASL_MECHANISM"),
		SASLUser:      os.Getenv("KAFKA_SASL_USER"),
		SASLPassword:  os.Getenv("KAFKA_SASL_PASSWORD"),
		TLSCAPath:     os.Getenv("KAFKA_TLS_CA"),
		TLSSkipVerify: getBoolEnv("KAFKA_TLS_SKIP_VERIFY", false),
	}

	return &KafkaSink{config: config, inst: newInstruments("kafka", opts)}
}

// NewKafkaSink creates a KafkaSink with explicit configuration
func NewKafkaSink(brokers []string, topic string, opts ...Option) *KafkaSink {
	return &KafkaSink{
		config: KafkaConfig{
			Brokers: brokers,
			Topic:   topic,
			Acks:    "all",
		},
		inst: newInstruments("kafka", opts),
	}
}

func (s *KafkaSink) configMap() kafka.ConfigMap {
	configMap := kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(s.config.Brokers, ","),
		"acks":               s.config.Acks,
		"enable.idempotence": s.config.Acks == "all",
		"retries":            10,
		"retry.backoff.ms":   100,
		"batch.size":         16384,
		"linger.ms":          10,
	}

	if s.config.Compression != "" {
		configMap["compression.type"] = s.config.Compression
	}

	if s.config.SASLMechanism != "" {
		configMap["security.protocol"] = "SASL_SSL"
		configMap["sasl.mechanism"] = s.config.SASLMechanism
		if s.config.SASLUser != "" {
			configMap["sasl.username"] = s.config.SASLUser
		}
		if s.config.SASLPassword != "" {
			configMap["sasl.password"] = s.config.SASLPassword
		}
	}

	if s.config.TLSCAPath != "" {
		if s.config.SASLMechanism == "" {
			configMap["security.protocol"] = "SSL"
		}
		configMap["ssl.ca.location"] = s.config.TLSCAPath
	}

	if s.config.TLSSkipVerify {
		configMap["ssl.endpoint.identification.algorithm"] = "none"
	}
	return configMap
}

func (s *KafkaSink) Start(ctx context.Context) error {
	configMap := s.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	s.producer = producer

	go s.handleDeliveryReports(ctx)

	s.inst.log.Info("kafka producer started",
		zap.Strings("brokers", s.config.Brokers),
		zap.String("topic", s.config.Topic),
	)
	return nil
}

// buildMessage serializes r into a message for the configured topic.
func (s *KafkaSink) buildMessage(r response.ScoredResponse) (*kafka.Message, error) {
	value, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &s.config.Topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(r.ResponseID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "is_flagged", Value: []byte(strconv.FormatBool(r.IsFlagged))},
			{Key: "rules_version", Value: []byte(r.RulesVersion)},
			{Key: "schema", Value: []byte(schemaVersion)},
		},
	}, nil
}

func (s *KafkaSink) Enqueue(r response.ScoredResponse) error {
	if s.producer == nil {
		return errProducerNotStarted
	}
	msg, err := s.buildMessage(r)
	if err != nil {
		return err
	}
	if err := s.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer == nil {
		return nil
	}
	defer s.producer.Close()

	if remaining := s.producer.Flush(10 * 1000); remaining > 0 {
		return fmt.Errorf("failed to flush %d remaining messages", remaining)
	}
	return nil
}

func (s *KafkaSink) Name() string { return "kafka" }

// handleDeliveryReports drains the producer's event channel until ctx ends
// or the producer is closed.
func (s *KafkaSink) handleDeliveryReports(ctx context.Context) {
	events := s.producer.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					s.inst.metrics.IncrementSinkErrors(s.Name(), "delivery")
					s.inst.log.Error("delivery failed",
						zap.ByteString("response_id", e.Key),
						zap.Error(e.TopicPartition.Error),
					)
				}
			case kafka.Error:
				s.inst.metrics.IncrementSinkErrors(s.Name(), "client")
				s.inst.log.Warn("client error", zap.Error(e))
			}
		}
	}
}
