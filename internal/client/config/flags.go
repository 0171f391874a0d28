package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/phrkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
// Only the flags handled here are taken from os.Args (see flagx.FilterArgs).
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-r", "-i", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "API base URL")
	fs.Float64Var(&cfg.RateLimit, "r", cfg.RateLimit, "request rate limit (requests per second)")
	pollInterval := fs.Int("i", int(cfg.PollInterval.Seconds()), "identity refresh interval (in seconds)")
	fs.StringVar(&cfg.PrivateKeyPath, "k", cfg.PrivateKeyPath, "private key file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PollInterval = time.Duration(*pollInterval) * time.Second
}
