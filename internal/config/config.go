// Package config resolves the dispatcher configuration from an optional YAML
// file and environment overrides. It is resolved once per process.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/taskexec/internal/failure"
	"github.com/animus-labs/taskexec/internal/platform/env"
	"github.com/animus-labs/taskexec/internal/platform/logging"
	"github.com/animus-labs/taskexec/internal/platform/objectstore"
)

// Environment variables read by Load.
const (
	EnvConfigPath        = "TASKEXEC_CONFIG"
	EnvCloudProvider     = "TASKEXEC_CLOUD_PROVIDER"
	EnvLogLevel          = "TASKEXEC_LOG_LEVEL"
	EnvLocalSandbox      = "TASKEXEC_LOCAL_SANDBOX"
	EnvEngine            = "TASKEXEC_ENGINE"
	EnvStorageTimeout    = "TASKEXEC_STORAGE_TIMEOUT"
	EnvStorageRetries    = "TASKEXEC_STORAGE_RETRIES"
	EnvStorageBackoff    = "TASKEXEC_STORAGE_BACKOFF"
	EnvUploadConcurrency = "TASKEXEC_UPLOAD_CONCURRENCY"
	EnvS3Prefix          = "TASKEXEC_S3_"
	EnvGCSPrefix         = "TASKEXEC_GCS_"

	EnvExecutionProject    = "TASKEXEC_EXECUTION_PROJECT"
	EnvExecutionDomain     = "TASKEXEC_EXECUTION_DOMAIN"
	EnvExecutionName       = "TASKEXEC_EXECUTION_NAME"
	EnvExecutionWorkflow   = "TASKEXEC_EXECUTION_WORKFLOW"
	EnvExecutionLaunchPlan = "TASKEXEC_EXECUTION_LAUNCHPLAN"

	EnvTaskProject = "TASKEXEC_TASK_PROJECT"
	EnvTaskDomain  = "TASKEXEC_TASK_DOMAIN"
	EnvTaskName    = "TASKEXEC_TASK_NAME"
)

// CloudProvider selects the storage backend.
type CloudProvider string

const (
	ProviderLocal CloudProvider = "local"
	ProviderAWS   CloudProvider = "aws"
	ProviderGCP   CloudProvider = "gcp"
)

type Config struct {
	Platform  Platform  `yaml:"platform"`
	Logging   Logging   `yaml:"logging"`
	SDK       SDK       `yaml:"sdk"`
	Storage   Storage   `yaml:"storage"`
	Execution Execution `yaml:"execution"`
	Task      Task      `yaml:"task"`
}

type Platform struct {
	CloudProvider CloudProvider `yaml:"cloud_provider"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type SDK struct {
	LocalSandbox string `yaml:"local_sandbox"`
	// Engine names the engine that runs legacy task definitions.
	Engine string `yaml:"engine"`
}

type Storage struct {
	Timeout           time.Duration      `yaml:"timeout"`
	Retries           int                `yaml:"retries"`
	Backoff           time.Duration      `yaml:"backoff"`
	UploadConcurrency int                `yaml:"upload_concurrency"`
	S3                objectstore.Config `yaml:"s3"`
	GCS               objectstore.Config `yaml:"gcs"`
}

// Execution identifies the workflow execution this task belongs to.
type Execution struct {
	Project    string `yaml:"project"`
	Domain     string `yaml:"domain"`
	Name       string `yaml:"name"`
	Workflow   string `yaml:"workflow"`
	LaunchPlan string `yaml:"launchplan"`
}

// Task identifies the registered task entity.
type Task struct {
	Project string `yaml:"project"`
	Domain  string `yaml:"domain"`
	Name    string `yaml:"name"`
}

func Default() Config {
	return Config{
		Platform: Platform{CloudProvider: ProviderLocal},
		SDK: SDK{
			LocalSandbox: filepath.Join(os.TempDir(), "taskexec"),
			Engine:       "local",
		},
		Storage: Storage{
			Timeout:           5 * time.Minute,
			Retries:           3,
			Backoff:           time.Second,
			UploadConcurrency: 4,
			S3:                objectstore.DefaultS3Config(),
			GCS:               objectstore.DefaultGCSConfig(),
		},
	}
}

// Load reads the file named by TASKEXEC_CONFIG (if any) over the defaults and
// then applies environment overrides.
func Load(lookup env.Lookup) (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(lookup.String(EnvConfigPath, "")); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, failure.Config("open config file", err)
		}
		defer func() { _ = f.Close() }()
		if cfg, err = Parse(f, cfg); err != nil {
			return Config{}, err
		}
	}
	cfg, err := cfg.applyEnv(lookup)
	if err != nil {
		return Config{}, failure.Config("environment", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, failure.Config("invalid configuration", err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over base. Unknown keys are rejected.
func Parse(r io.Reader, base Config) (Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Config{}, failure.Config("read config file", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return base, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	cfg := base
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, failure.Config("parse config file", err)
	}
	return cfg, nil
}

func (c Config) applyEnv(lookup env.Lookup) (Config, error) {
	var err error
	c.Platform.CloudProvider = CloudProvider(strings.ToLower(strings.TrimSpace(
		lookup.String(EnvCloudProvider, string(c.Platform.CloudProvider)))))
	c.Logging.Level = lookup.String(EnvLogLevel, c.Logging.Level)
	c.SDK.LocalSandbox = lookup.String(EnvLocalSandbox, c.SDK.LocalSandbox)
	c.SDK.Engine = lookup.String(EnvEngine, c.SDK.Engine)

	if c.Storage.Timeout, err = lookup.Duration(EnvStorageTimeout, c.Storage.Timeout); err != nil {
		return Config{}, err
	}
	if c.Storage.Backoff, err = lookup.Duration(EnvStorageBackoff, c.Storage.Backoff); err != nil {
		return Config{}, err
	}
	if c.Storage.Retries, err = lookup.Int(EnvStorageRetries, c.Storage.Retries); err != nil {
		return Config{}, err
	}
	if c.Storage.UploadConcurrency, err = lookup.Int(EnvUploadConcurrency, c.Storage.UploadConcurrency); err != nil {
		return Config{}, err
	}
	if c.Storage.S3, err = c.Storage.S3.ApplyEnv(lookup, EnvS3Prefix); err != nil {
		return Config{}, err
	}
	if c.Storage.GCS, err = c.Storage.GCS.ApplyEnv(lookup, EnvGCSPrefix); err != nil {
		return Config{}, err
	}

	c.Execution.Project = lookup.String(EnvExecutionProject, c.Execution.Project)
	c.Execution.Domain = lookup.String(EnvExecutionDomain, c.Execution.Domain)
	c.Execution.Name = lookup.String(EnvExecutionName, c.Execution.Name)
	c.Execution.Workflow = lookup.String(EnvExecutionWorkflow, c.Execution.Workflow)
	c.Execution.LaunchPlan = lookup.String(EnvExecutionLaunchPlan, c.Execution.LaunchPlan)

	c.Task.Project = lookup.String(EnvTaskProject, c.Task.Project)
	c.Task.Domain = lookup.String(EnvTaskDomain, c.Task.Domain)
	c.Task.Name = lookup.String(EnvTaskName, c.Task.Name)
	return c, nil
}

// Validate checks ranges and formats. The cloud provider is checked by the
// storage backend factory, which owns the list of backends.
func (c Config) Validate() error {
	issues := &ValidationError{}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		issues.Add(err.Error())
	}
	if strings.TrimSpace(c.SDK.LocalSandbox) == "" {
		issues.Add("sdk.local_sandbox is required")
	}
	if c.Storage.Retries < 1 {
		issues.Add(fmt.Sprintf("storage.retries must be at least 1, got %d", c.Storage.Retries))
	}
	if c.Storage.Timeout < 0 {
		issues.Add("storage.timeout must not be negative")
	}
	if c.Storage.Backoff < 0 {
		issues.Add("storage.backoff must not be negative")
	}
	if c.Storage.UploadConcurrency < 1 {
		issues.Add(fmt.Sprintf("storage.upload_concurrency must be at least 1, got %d", c.Storage.UploadConcurrency))
	}
	return issues.OrNil()
}
