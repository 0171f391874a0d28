package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/phrkeeper/internal/flagx"
	"github.com/dmitrijs2005/phrkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields distinguish "absent" from zero values.
type JsonConfig struct {
	APIBaseURL     *string         `json:"api_base_url"`
	ClientID       *string         `json:"client_id"`
	PartnerID      *string         `json:"partner_id"`
	RateLimit      *float64        `json:"rate_limit"`
	MaxAuthRetries *int            `json:"max_auth_retries"`
	RequestTimeout *timex.Duration `json:"request_timeout"`
	PollInterval   *timex.Duration `json:"poll_interval"`

	DocumentBackend *string `json:"document_backend"`
	S3Bucket        *string `json:"s3_bucket"`
	S3Region        *string `json:"s3_region"`
	S3BaseEndpoint  *string `json:"s3_base_endpoint"`
	S3AccessKey     *string `json:"s3_access_key"`
	S3SecretKey     *string `json:"s3_secret_key"`

	PrivateKeyPath *string `json:"private_key_path"`
	MetadataDSN    *string `json:"metadata_dsn"`
	LogLevel       *string `json:"log_level"`
}

// parseJson overlays Config with values from the file named by -c/-config.
// It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFileFlag(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.APIBaseURL, jc.APIBaseURL)
	setString(&cfg.ClientID, jc.ClientID)
	setString(&cfg.PartnerID, jc.PartnerID)
	if jc.RateLimit != nil {
		cfg.RateLimit = *jc.RateLimit
	}
	if jc.MaxAuthRetries != nil {
		cfg.MaxAuthRetries = *jc.MaxAuthRetries
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.PollInterval != nil {
		cfg.PollInterval = jc.PollInterval.Duration
	}
	setString(&cfg.DocumentBackend, jc.DocumentBackend)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.PrivateKeyPath, jc.PrivateKeyPath)
	setString(&cfg.MetadataDSN, jc.MetadataDSN)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
