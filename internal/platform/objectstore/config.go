package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/taskexec/internal/platform/env"
)

// Config describes one S3-compatible endpoint.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func DefaultS3Config() Config {
	return Config{Endpoint: "s3.amazonaws.com", Region: "us-east-1", UseSSL: true}
}

// DefaultGCSConfig targets the Cloud Storage XML API, which accepts S3
// requests signed with HMAC keys.
func DefaultGCSConfig() Config {
	return Config{Endpoint: "storage.googleapis.com", Region: "auto", UseSSL: true}
}

// ApplyEnv overrides cfg with <prefix>ENDPOINT, ACCESS_KEY, SECRET_KEY,
// REGION and USE_SSL.
func (c Config) ApplyEnv(lookup env.Lookup, prefix string) (Config, error) {
	useSSL, err := lookup.Bool(prefix+"USE_SSL", c.UseSSL)
	if err != nil {
		return Config{}, err
	}
	c.Endpoint = lookup.String(prefix+"ENDPOINT", c.Endpoint)
	c.AccessKey = lookup.String(prefix+"ACCESS_KEY", c.AccessKey)
	c.SecretKey = lookup.String(prefix+"SECRET_KEY", c.SecretKey)
	c.Region = lookup.String(prefix+"REGION", c.Region)
	c.UseSSL = useSSL
	return c, nil
}

// HasStaticKeys reports whether both halves of a key pair are set.
func (c Config) HasStaticKeys() bool {
	return strings.TrimSpace(c.AccessKey) != "" && strings.TrimSpace(c.SecretKey) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	hasAccess := strings.TrimSpace(c.AccessKey) != ""
	hasSecret := strings.TrimSpace(c.SecretKey) != ""
	if hasAccess != hasSecret {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}
