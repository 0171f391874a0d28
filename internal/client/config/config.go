package config

import "time"

const (
	DocumentBackendAPI = "api"
	DocumentBackendS3  = "s3"
)

// Config holds runtime settings of the phrkeeper client.
//
// RateLimit is in requests per second; the transport releases one request
// every ceil(1000/RateLimit) ms. PollInterval of 0 disables the background
// identity refresh.
type Config struct {
	APIBaseURL     string
	ClientID       string
	PartnerID      string
	RateLimit      float64
	MaxAuthRetries int
	RequestTimeout time.Duration
	PollInterval   time.Duration

	DocumentBackend string
	S3Bucket        string
	S3Region        string
	S3BaseEndpoint  string
	S3AccessKey     string
	S3SecretKey     string

	PrivateKeyPath string
	MetadataDSN    string
	LogLevel       string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.ClientID = "phrkeeper#cli"
	c.PartnerID = "phrkeeper"
	c.RateLimit = 10
	c.MaxAuthRetries = 2
	c.RequestTimeout = 30 * time.Second
	c.PollInterval = 30 * time.Second
	c.DocumentBackend = DocumentBackendAPI
	c.S3Region = "us-east-1"
	c.MetadataDSN = "phrkeeper.db"
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
