// Package config loads runtime configuration for the phrkeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   API base URL
//	-r float    request rate limit (requests per second)
//	-i int      identity refresh interval (seconds, 0 disables)
//	-k string   path to the private key file (PEM or sealed)
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "30s"
// or integer nanoseconds. Fields missing from the file keep their defaults:
//
//	{
//	  "api_base_url": "https://phr.example.org",
//	  "client_id": "acme#cli",
//	  "rate_limit": 5,
//	  "request_timeout": "30s",
//	  "poll_interval": "1m",
//	  "document_backend": "s3",
//	  "s3_bucket": "phr-documents",
//	  "private_key_path": "~/.phrkeeper/key.pem"
//	}
package config
