package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestParseCompression(t *testing.T) {
	cases := map[string]kafka.Compression{
		"snappy": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
		"gzip":   kafka.Gzip,
		"":       kafka.Gzip,
	}
	for in, want := range cases {
		if got := parseCompression(in); got != want {
			t.Fatalf("parseCompression(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEncodeValue(t *testing.T) {
	raw, err := encodeValue([]byte("raw"))
	if err != nil || string(raw) != "raw" {
		t.Fatalf("bytes must pass through: %q %v", raw, err)
	}
	js, err := encodeValue(struct {
		Symbol string `json:"symbol"`
	}{"R_100"})
	if err != nil || string(js) != `{"symbol":"R_100"}` {
		t.Fatalf("unexpected json %q %v", js, err)
	}
	if _, err := encodeValue(make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestProducerConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		opts []ProducerOption
		ok   bool
	}{
		{"defaults with broker", []ProducerOption{WithBrokers([]string{"localhost:9092"})}, true},
		{"no brokers", nil, false},
		{"blank broker", []ProducerOption{WithBrokers([]string{"localhost:9092", " "})}, false},
		{"bad compression", []ProducerOption{WithBrokers([]string{"k:9092"}), WithCompression("brotli")}, false},
		{"bad acks", []ProducerOption{WithBrokers([]string{"k:9092"}), WithRequiredAcks(2)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultProducerConfig()
			for _, o := range tc.opts {
				o(cfg)
			}
			if err := cfg.validate(); (err == nil) != tc.ok {
				t.Fatalf("validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestProducerOptionsKeepDefaultsForZero(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, o := range []ProducerOption{WithBatchSize(0), WithMaxAttempts(0), WithTimeouts(0, 0)} {
		o(cfg)
	}
	if cfg.BatchSize != 100 || cfg.MaxAttempts != 3 || cfg.WriteTimeout == 0 || cfg.ReadTimeout == 0 {
		t.Fatalf("zero options must keep defaults: %+v", cfg)
	}
}
