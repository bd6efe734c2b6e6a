package sink

import (
	"errors"
	"reflect"
	"testing"

	"github.com/goccy/go-json"

	"github.com/shortontech/surveyguard/internal/response"
)

func clearKafkaEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_ACKS", "KAFKA_COMPRESSION",
		"KAFKA_SASL_MECHANISM", "KAFKA_SASL_USER", "KAFKA_SASL_PASSWORD",
		"KAFKA_TLS_CA", "KAFKA_TLS_SKIP_VERIFY",
	} {
		t.Setenv(key, "")
	}
}

func TestNewKafkaSinkFromEnv(t *testing.T) {
	t.Run("uses defaults when env not set", func(t *testing.T) {
		clearKafkaEnv(t)
		s := NewKafkaSinkFromEnv()

		if !reflect.DeepEqual(s.config.Brokers, []string{"localhost:9092"}) {
			t.Errorf("Brokers = %v", s.config.Brokers)
		}
		if s.config.Topic != "surveyguard.responses" {
			t.Errorf("Topic = %q, want surveyguard.responses", s.config.Topic)
		}
		if s.config.Acks != "all" {
			t.Errorf("Acks = %q, want all", s.config.Acks)
		}
	})

	t.Run("uses env variables when set", func(t *testing.T) {
		clearKafkaEnv(t)
		t.Setenv("KAFKA_BROKERS", " broker1:9092 , broker2:9092")
		t.Setenv("KAFKA_TOPIC", "integrity.verdicts")
		t.Setenv("KAFKA_ACKS", "1")
		t.Setenv("KAFKA_COMPRESSION", "zstd")
		t.Setenv("KAFKA_SASL_MECHANISM", "SCRAM-SHA-512")
		t.Setenv("KAFKA_SASL_USER", "svc")
		t.Setenv("KAFKA_SASL_PASSWORD", "secret")
		t.Setenv("KAFKA_TLS_CA", "/etc/ca.pem")
		t.Setenv("KAFKA_TLS_SKIP_VERIFY", "true")

		want := KafkaConfig{
			Brokers:       []string{"broker1:9092", "broker2:9092"},
			Topic:         "integrity.verdicts",
			Acks:          "1",
			Compression:   "zstd",
			SASLMechanism: "SCRAM-SHA-512",
			SASLUser:      "svc",
			SASLPassword:  "secret",
			TLSCAPath:     "/etc/ca.pem",
			TLSSkipVerify: true,
		}
		if got := NewKafkaSinkFromEnv().config; !reflect.DeepEqual(got, want) {
			t.Errorf("config = %+v, want %+v", got, want)
		}
	})
}

func TestKafkaConfigMap(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
		want map[string]any
		omit []string
	}{
		{
			name: "basic",
			cfg:  KafkaConfig{Brokers: []string{"a:9092", "b:9092"}, Topic: "t", Acks: "all"},
			want: map[string]any{"bootstrap.servers": "a:9092,b:9092", "acks": "all", "enable.idempotence": true},
			omit: []string{"compression.type", "security.protocol"},
		},
		{
			name: "compression without idempotence",
			cfg:  KafkaConfig{Brokers: []string{"a:9092"}, Acks: "1", Compression: "lz4"},
			want: map[string]any{"compression.type": "lz4", "enable.idempotence": false},
		},
		{
			name: "sasl",
			cfg:  KafkaConfig{Brokers: []string{"a:9092"}, Acks: "all", SASLMechanism: "PLAIN", SASLUser: "u", SASLPassword: "p"},
			want: map[string]any{"security.protocol": "SASL_SSL", "sasl.mechanism": "PLAIN", "sasl.username": "u", "sasl.password": "p"},
		},
		{
			name: "tls only",
			cfg:  KafkaConfig{Brokers: []string{"a:9092"}, Acks: "all", TLSCAPath: "/ca.pem", TLSSkipVerify: true},
			want: map[string]any{"security.protocol": "SSL", "ssl.ca.location": "/ca.pem", "ssl.endpoint.identification.algorithm": "none"},
		},
		{
			name: "sasl with tls keeps SASL_SSL",
			cfg:  KafkaConfig{Brokers: []string{"a:9092"}, Acks: "all", SASLMechanism: "PLAIN", TLSCAPath: "/ca.pem"},
			want: map[string]any{"security.protocol": "SASL_SSL", "ssl.ca.location": "/ca.pem"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := (&KafkaSink{config: tt.cfg}).configMap()
			for k, v := range tt.want {
				if cm[k] != v {
					t.Errorf("%s = %v, want %v", k, cm[k], v)
				}
			}
			for _, k := range tt.omit {
				if _, ok := cm[k]; ok {
					t.Errorf("%s should not be set", k)
				}
			}
		})
	}
}

func TestKafkaBuildMessage(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "surveyguard.responses")
	r := sampleResponse("resp-42")

	msg, err := s.buildMessage(r)
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if string(msg.Key) != "resp-42" {
		t.Errorf("key = %q, want resp-42", msg.Key)
	}
	if *msg.TopicPartition.Topic != "surveyguard.responses" {
		t.Errorf("topic = %q", *msg.TopicPartition.Topic)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	want := map[string]string{"is_flagged": "true", "rules_version": "2025.1", "schema": "scored_response.v1"}
	if !reflect.DeepEqual(headers, want) {
		t.Errorf("headers = %v, want %v", headers, want)
	}

	var decoded response.ScoredResponse
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded.ResponseID != "resp-42" || decoded.Score != 0.6 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestKafkaSinkWithoutProducer(t *testing.T) {
	s := NewKafkaSink([]string{"localhost:9092"}, "t")
	if s.Name() != "kafka" {
		t.Errorf("Name() = %q, want kafka", s.Name())
	}
	if err := s.Enqueue(sampleResponse("r-1")); !errors.Is(err, errProducerNotStarted) {
		t.Errorf("Enqueue() = %v, want errProducerNotStarted", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on unstarted sink should not error: %v", err)
	}
}
