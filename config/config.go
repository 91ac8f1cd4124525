package config

import (
	"io/ioutil"
	"os"

	"github.com/Velocidex/yaml/v2"
	"github.com/go-errors/errors"

	"www.velocidex.com/golang/velopack/constants"
)

// Where the assembled packages should point clients for tool
// downloads, and how the generated server configuration binds its
// frontend.
type FrontendConfig struct {
	BindAddress string `json:"bind_address,omitempty"`
	BindPort    uint32 `json:"bind_port,omitempty"`

	// Base URL clients use to reach the server's tool store. Written
	// into client package manifests.
	PublicUrl string `json:"public_url,omitempty"`
}

type LoggingConfig struct {
	// Directory where the build log is written. Empty means log to
	// stderr only.
	OutputDirectory string `json:"output_directory,omitempty"`
	Verbose         bool   `json:"verbose,omitempty"`
}

type FetcherConfig struct {
	// Number of concurrent tool downloads.
	Concurrency int `json:"concurrency,omitempty"`

	RetryCount    int `json:"retry_count,omitempty"`
	RetryDelaySec int `json:"retry_delay_sec,omitempty"`

	// When set no network calls are made at all - only tools already
	// present in the cache are used.
	Offline bool `json:"offline,omitempty"`
}

type Config struct {
	// Root of the artifact corpus - a directory tree or a zip file.
	Source string `json:"source,omitempty"`

	// Where packages and reports are written.
	OutputDir string `json:"output_dir,omitempty"`

	// Where downloaded tools are cached between runs.
	CacheDir string `json:"cache_dir,omitempty"`

	// Which packages to build: "server", "client" or "both".
	PackageKind string `json:"package,omitempty"`

	// When set, a Failed tool referenced by a packaged artifact
	// makes the server package build fail with IncompletePackage.
	ValidateDownloads bool `json:"validate_downloads,omitempty"`

	// Also emit a zip archive next to each package directory.
	Archive bool `json:"archive,omitempty"`

	Frontend *FrontendConfig `json:"Frontend,omitempty"`
	Fetcher  *FetcherConfig  `json:"Fetcher,omitempty"`
	Logging  *LoggingConfig  `json:"Logging,omitempty"`
}

func GetDefaultConfig() *Config {
	return &Config{
		PackageKind: "both",
		Frontend: &FrontendConfig{
			BindAddress: "0.0.0.0",
			BindPort:    8000,
		},
		Fetcher: &FetcherConfig{
			Concurrency:   constants.DEFAULT_CONCURRENCY,
			RetryCount:    constants.DEFAULT_RETRY_COUNT,
			RetryDelaySec: constants.DEFAULT_RETRY_DELAY_SEC,
		},
		Logging: &LoggingConfig{},
	}
}

// Load the config stored in the YAML file into an existing config
// object. Only fields present in the file are overridden.
func LoadConfigFromFile(filename string, config_obj *Config) error {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	return ParseConfigFromString(data, config_obj)
}

func ParseConfigFromString(data []byte, config_obj *Config) error {
	err := yaml.UnmarshalStrict(data, config_obj)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	return nil
}

func Encode(config_obj *Config) ([]byte, error) {
	return yaml.Marshal(config_obj)
}

func WriteConfigToFile(filename string, config_obj *Config) error {
	data, err := Encode(config_obj)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filename, data, 0600)
}

// Ensure the config describes a runnable build. Missing sections are
// filled with defaults so later stages do not need nil checks.
func ValidateConfig(config_obj *Config) error {
	if config_obj.Source == "" {
		return errors.New("A corpus source is required")
	}

	if config_obj.OutputDir == "" {
		return errors.New("An output directory is required")
	}

	if config_obj.Frontend == nil {
		config_obj.Frontend = GetDefaultConfig().Frontend
	}

	if config_obj.Fetcher == nil {
		config_obj.Fetcher = GetDefaultConfig().Fetcher
	}

	if config_obj.Logging == nil {
		config_obj.Logging = &LoggingConfig{}
	}

	if config_obj.Fetcher.Concurrency <= 0 {
		config_obj.Fetcher.Concurrency = constants.DEFAULT_CONCURRENCY
	}

	if config_obj.Fetcher.RetryCount <= 0 {
		config_obj.Fetcher.RetryCount = constants.DEFAULT_RETRY_COUNT
	}

	if config_obj.Fetcher.RetryDelaySec <= 0 {
		config_obj.Fetcher.RetryDelaySec = constants.DEFAULT_RETRY_DELAY_SEC
	}

	if config_obj.CacheDir == "" {
		config_obj.CacheDir = os.TempDir()
	}

	switch config_obj.PackageKind {
	case "":
		config_obj.PackageKind = "both"

	case "server", "client", "both":

	default:
		return errors.New("Invalid package kind: " + config_obj.PackageKind)
	}

	return nil
}
