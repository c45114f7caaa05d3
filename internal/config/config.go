package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/facepay/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

const defaultEmbeddingModel = "facenet-vggface2"

type Config struct {
	Web       WebConfig
	Inference InferenceConfig
	Matching  MatchingConfig
	Stream    StreamConfig
	Database  DatabaseConfig
	MQTT      MQTTConfig
	Log       LogConfig
	Models    ModelsConfig
}

type WebConfig struct {
	Host           string   // defaults to 0.0.0.0
	Port           int      // defaults to 8080
	AllowedOrigins []string // browser origins allowed for CORS and websocket upgrades, "*" allows any
}

type InferenceConfig struct {
	URL                    string        // detection/embedding server, defaults to http://localhost:8000
	Model                  string        // embedding model profile name from models.yaml
	Workers                int           // fixed worker pool size (default 4)
	QueueSize              int           // bounded job queue (default 16)
	Timeout                time.Duration // per-frame budget for detect + embed (default 10s)
	MinDetectionConfidence float64       // faces below this are reported but not embedded (default 0.5)
}

type MatchingConfig struct {
	Metric          string  // cosine or euclidean; overrides the model profile when set
	Threshold       float64 // maximum distance for a positive match; overrides the model profile when > 0
	IndexMinSize    int     // reference embeddings before the HNSW prefilter kicks in (0 = exact scan only)
	IndexCandidates int     // nearest references taken from the HNSW prefilter
}

type StreamConfig struct {
	MaxFrameBytes  int           // largest accepted base64 payload (default 4 MiB)
	OutboundBuffer int           // per-session outbound message buffer (default 64)
	WriteTimeout   time.Duration // per-message websocket write deadline (default 10s)
	PingInterval   time.Duration // websocket keepalive (default 30s)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL (optional, enrollment store)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MQTTConfig struct {
	Broker      string // host:port, empty disables MQTT notifications
	ClientID    string // defaults to facepay
	TopicPrefix string // defaults to facepay
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type ModelsConfig struct {
	Models map[string]ModelProfile `yaml:"models"`
}

// ModelProfile describes the embedding space a recognition model produces.
// The metric and threshold must match what the model was trained for.
type ModelProfile struct {
	Dim       int     `yaml:"dim"`
	Metric    string  `yaml:"metric"`
	Threshold float64 `yaml:"threshold"`
	InputSize int     `yaml:"input_size"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration (e.g. "750ms").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, skipping empty items.
func envList(key string) []string {
	var items []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Inference: InferenceConfig{
			URL:                    os.Getenv("INFERENCE_URL"),
			Model:                  envString("EMBEDDING_MODEL", defaultEmbeddingModel),
			Workers:                envInt("INFERENCE_WORKERS", constants.DefaultWorkers),
			QueueSize:              envInt("INFERENCE_QUEUE_SIZE", 16),
			Timeout:                envDuration("INFERENCE_TIMEOUT", 10*time.Second),
			MinDetectionConfidence: envFloat("MIN_DETECTION_CONFIDENCE", constants.DefaultMinDetectionConfidence),
		},
		Matching: MatchingConfig{
			Metric:          strings.ToLower(os.Getenv("MATCH_METRIC")),
			Threshold:       envFloat("MATCH_THRESHOLD", 0),
			IndexMinSize:    envInt("MATCH_INDEX_MIN_SIZE", 0),
			IndexCandidates: envInt("MATCH_INDEX_CANDIDATES", constants.DefaultIndexCandidates),
		},
		Stream: StreamConfig{
			MaxFrameBytes:  envInt("MAX_FRAME_BYTES", 4<<20),
			OutboundBuffer: envInt("STREAM_OUTBOUND_BUFFER", 64),
			WriteTimeout:   envDuration("STREAM_WRITE_TIMEOUT", 10*time.Second),
			PingInterval:   envDuration("STREAM_PING_INTERVAL", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MQTT: MQTTConfig{
			Broker:      os.Getenv("MQTT_BROKER"),
			ClientID:    envString("MQTT_CLIENT_ID", "facepay"),
			TopicPrefix: envString("MQTT_TOPIC_PREFIX", "facepay"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Models: models,
	}
}

// GetModelProfile returns the profile for the configured embedding model.
// Unknown model names fall back to the default FaceNet profile.
func (c *Config) GetModelProfile() ModelProfile {
	if profile, ok := c.Models.Models[c.Inference.Model]; ok {
		return profile
	}
	return c.Models.Models[defaultEmbeddingModel]
}

// MatchMetric returns the distance metric, preferring the explicit override.
func (c *Config) MatchMetric() string {
	if c.Matching.Metric != "" {
		return c.Matching.Metric
	}
	return c.GetModelProfile().Metric
}

// MatchThreshold returns the match threshold, preferring the explicit override.
func (c *Config) MatchThreshold() float64 {
	if c.Matching.Threshold > 0 {
		return c.Matching.Threshold
	}
	if t := c.GetModelProfile().Threshold; t > 0 {
		return t
	}
	return constants.DefaultDistanceThreshold
}
