// Package config holds the server configuration: a JSON file, defaults and
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	limiter "github.com/ulule/limiter/v3"
)

// Configuration stores server configuration parameters
type Configuration struct {
	// web server parts
	Port        int      `json:"port"`          // server port number
	Verbose     int      `json:"verbose"`       // verbose output
	Rate        string   `json:"rate"`          // limiter rate value, e.g. 100-S
	MaxUploadMB int64    `json:"max_upload_mb"` // request body limit in megabytes
	CORSOrigins []string `json:"cors_origins"`  // allowed CORS origins

	// model parts
	ModelPath    string `json:"model_path"`    // ONNX model file
	MetadataPath string `json:"metadata_path"` // model metadata JSON sidecar
	ONNXLibrary  string `json:"onnx_library"`  // onnxruntime shared library

	// reports
	StatsDir string `json:"stats_dir"` // statistics and report tree

	// logging parts
	LogFile   string `json:"log_file"`   // server log file, rotated daily
	LogLevel  string `json:"log_level"`  // logrus level name
	LogFormat string `json:"log_format"` // text or json

	// TLS parts
	ServerCrt   string   `json:"server_cert"`  // server certificate
	ServerKey   string   `json:"server_key"`   // server key
	DomainNames []string `json:"domain_names"` // LetsEncrypt domain names
}

// Default returns the configuration used when no file is given.
func Default() Configuration {
	return Configuration{
		Port:         8000,
		Rate:         "100-S",
		MaxUploadMB:  10,
		CORSOrigins:  []string{"*"},
		ModelPath:    filepath.Join("models", "unet_brain_tumor.onnx"),
		MetadataPath: filepath.Join("models", "model_metadata.json"),
		StatsDir:     "Stats",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads the configuration file, fills in defaults and applies
// environment overrides. An empty path yields the defaults.
func Load(configFile string) (Configuration, error) {
	cfg := Default()
	if configFile != "" {
		data, err := os.ReadFile(filepath.Clean(configFile))
		if err != nil {
			return cfg, fmt.Errorf("unable to read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unable to parse config %s: %w", configFile, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Configuration) applyDefaults() {
	def := Default()
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.Rate == "" {
		c.Rate = def.Rate
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = def.MaxUploadMB
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.ModelPath == "" {
		c.ModelPath = def.ModelPath
	}
	if c.StatsDir == "" {
		c.StatsDir = def.StatsDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
}

func (c *Configuration) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Port = p
	}
	for env, field := range map[string]*string{
		"MODEL_PATH":     &c.ModelPath,
		"MODEL_METADATA": &c.MetadataPath,
		"ONNX_LIB":       &c.ONNXLibrary,
		"STATS_DIR":      &c.StatsDir,
		"LOG_LEVEL":      &c.LogLevel,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c Configuration) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := limiter.NewRateFromFormatted(c.Rate); err != nil {
		return fmt.Errorf("invalid rate %q: %w", c.Rate, err)
	}
	if c.MaxUploadMB < 0 {
		return fmt.Errorf("invalid max_upload_mb %d", c.MaxUploadMB)
	}
	if (c.ServerCrt == "") != (c.ServerKey == "") {
		return errors.New("server_cert and server_key must be set together")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// MaxUploadBytes is the request body limit in bytes.
func (c Configuration) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Addr is the listen address for plain HTTP and cert/key TLS.
func (c Configuration) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
