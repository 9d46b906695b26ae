package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// Fallback model used when DETECTOR_MODEL names something models.yaml does not list.
const (
	DefaultModelName      = "face-api-128"
	DefaultDescriptorDim  = 128
	DefaultMetric         = "euclidean"
	DefaultMatchThreshold = 0.6
)

type Config struct {
	Database DatabaseConfig
	MariaDB  MariaDBConfig
	Detector DetectorConfig
	Match    MatchConfig
	Camera   CameraConfig
	MQTT     MQTTConfig
	Web      WebConfig
	Models   ModelsConfig
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	Backend       string // postgres (default) or mariadb
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSW          bool   // Serve nearest queries from in-memory per-owner HNSW graphs
	HNSWIndexPath string // Directory to persist HNSW graphs (optional, if empty graphs are rebuilt on demand)
}

type MariaDBConfig struct {
	DSN string // e.g. facecam:facecam@tcp(mariadb:3306)/facecam?parseTime=true
}

type DetectorConfig struct {
	Backend   string // http (default) or dlib
	URL       string // defaults to http://localhost:8000
	Model     string // key in models.yaml
	ModelsDir string // dlib model files, defaults to ./models
}

type MatchConfig struct {
	Threshold float64 // 0 means use the model default
}

type CameraConfig struct {
	Source   string        // dir://path, http(s)://snapshot, mjpeg+http(s)://stream
	Name     string        // camera identifier used in event topics
	Interval time.Duration // minimum time between processed frames
	Loop     bool          // restart dir:// sources from the first image
	// SkipUnchanged is the hash distance below which a frame is treated as
	// a repeat of the previous one. 0 disables skipping.
	SkipUnchanged int
}

type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

type WebConfig struct {
	Port           int
	Host           string
	SessionSecret  string
	AllowedOrigins string
}

type ModelsConfig struct {
	Models map[string]ModelSpec `yaml:"models"`
}

// ModelSpec describes the descriptors a face model produces.
type ModelSpec struct {
	Name      string  `yaml:"-"`
	Dim       int     `yaml:"dim"`
	Metric    string  `yaml:"metric"`
	Threshold float64 `yaml:"threshold"`
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

// envFloat is envInt for positive floats.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration is envInt for positive durations ("250ms", "1s").
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

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			Backend:       envString("DATABASE_BACKEND", "postgres"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSW:          envBool("DATABASE_HNSW"),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		MariaDB: MariaDBConfig{
			DSN: os.Getenv("MARIADB_DSN"),
		},
		Detector: DetectorConfig{
			Backend:   envString("DETECTOR_BACKEND", "http"),
			URL:       os.Getenv("DETECTOR_URL"),
			Model:     envString("DETECTOR_MODEL", DefaultModelName),
			ModelsDir: envString("DETECTOR_MODELS_DIR", "models"),
		},
		Match: MatchConfig{
			Threshold: envFloat("MATCH_THRESHOLD", 0),
		},
		Camera: CameraConfig{
			Source:   os.Getenv("CAMERA_SOURCE"),
			Name:     envString("CAMERA_NAME", "default"),
			Interval: envDuration("CAMERA_INTERVAL", 200*time.Millisecond),
			Loop:     envBool("CAMERA_LOOP"),

			SkipUnchanged: envInt("CAMERA_SKIP_UNCHANGED", 0),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			Topic:    envString("MQTT_TOPIC", "facecam/detections"),
			ClientID: os.Getenv("MQTT_CLIENT_ID"),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8080),
			Host:           envString("WEB_HOST", "0.0.0.0"),
			SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Models: models,
	}
}

// Model returns the descriptor settings of the configured detector model, with fallback defaults
func (c *Config) Model() ModelSpec {
	return c.ModelByName(c.Detector.Model)
}

// ModelByName returns the descriptor settings for a model name. Unknown models get a
// 128-dim euclidean model so descriptors from face-api style models still work.
func (c *Config) ModelByName(name string) ModelSpec {
	if m, ok := c.Models.Models[name]; ok {
		m.Name = name
		return m
	}
	return ModelSpec{
		Name:      name,
		Dim:       DefaultDescriptorDim,
		Metric:    DefaultMetric,
		Threshold: DefaultMatchThreshold,
	}
}

// MatchThreshold returns MATCH_THRESHOLD when set, otherwise the model default.
func (c *Config) MatchThreshold() float64 {
	if c.Match.Threshold > 0 {
		return c.Match.Threshold
	}
	return c.Model().Threshold
}

// PersistenceEnabled reports whether a descriptor store is configured.
func (c *Config) PersistenceEnabled() bool {
	if c.Database.Backend == "mariadb" {
		return c.MariaDB.DSN != ""
	}
	return c.Database.URL != ""
}
