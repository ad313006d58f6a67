package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Engine struct {
	// CommandQueueSize is the dispatcher's inbound buffer.
	CommandQueueSize int
	// QuoteQueueSize is the in-memory quote queue; the producer blocks
	// when the publisher falls this far behind.
	QuoteQueueSize int
	// MaxOrderBookSideSize caps resting orders per book side, 0 = off.
	MaxOrderBookSideSize int
	// RetireRingSize must be a power of two.
	RetireRingSize uint64
}

type Storage struct {
	DataDir         string
	OutboxDir       string
	JournalDir      string
	SnapshotDir     string
	AssetsFile      string
	SegmentSize     int64
	SegmentDuration time.Duration
}

type Kafka struct {
	Brokers     []string
	EventTopic  string
	QuoteTopic  string
	DrainPeriod time.Duration
}

type Config struct {
	Engine  Engine
	Storage Storage
	Kafka   Kafka
}

func Default() Config {
	return Config{
		Engine: Engine{
			CommandQueueSize:     1024,
			QuoteQueueSize:       4096,
			MaxOrderBookSideSize: 0,
			RetireRingSize:       1 << 14,
		},
		Storage: Storage{
			DataDir:         "data/store",
			OutboxDir:       "data/outbox",
			JournalDir:      "data/journal",
			SnapshotDir:     "data/books",
			AssetsFile:      "data/assets.json",
			SegmentSize:     64 << 20,
			SegmentDuration: time.Hour,
		},
		Kafka: Kafka{
			Brokers:     []string{"localhost:9092"},
			EventTopic:  "me.events",
			QuoteTopic:  "me.quotes",
			DrainPeriod: 100 * time.Millisecond,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ENGINE_COMMAND_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.CommandQueueSize = n
		}
	}
	if v := os.Getenv("ENGINE_QUOTE_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.QuoteQueueSize = n
		}
	}
	if v := os.Getenv("ENGINE_MAX_BOOK_SIDE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Engine.MaxOrderBookSideSize = n
		}
	}
	if v := os.Getenv("STORAGE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STORAGE_OUTBOX_DIR"); v != "" {
		cfg.Storage.OutboxDir = v
	}
	if v := os.Getenv("STORAGE_ASSETS_FILE"); v != "" {
		cfg.Storage.AssetsFile = v
	}
	if v := os.Getenv("STORAGE_JOURNAL_DIR"); v != "" {
		cfg.Storage.JournalDir = v
	}
	if v := os.Getenv("STORAGE_SNAPSHOT_DIR"); v != "" {
		cfg.Storage.SnapshotDir = v
	}
	if v := os.Getenv("STORAGE_SEGMENT_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.Storage.SegmentSize = n
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_EVENT_TOPIC"); v != "" {
		cfg.Kafka.EventTopic = v
	}
	if v := os.Getenv("KAFKA_QUOTE_TOPIC"); v != "" {
		cfg.Kafka.QuoteTopic = v
	}
	if v := os.Getenv("KAFKA_DRAIN_PERIOD_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Kafka.DrainPeriod = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
