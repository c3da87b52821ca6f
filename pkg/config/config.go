// implements the config object.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	defaultApiPort   = "8080"
	defaultConfigURL = "https://script.google.com/macros/s/AKfycbzwclqJRodyVjzYyY-NTQDb9cWG6Hoc5vGAABVtr5-jPA_ET_2IasrAJK4aeo5XoONiaA/exec"
	defaultLogURL    = "https://app-tracking.pockethost.io/api/collections/drone_logs/records"
	defaultDroneID   = 65010312

	defaultMaxPages               = 1000
	defaultUpstreamTimeoutSeconds = 30
	defaultLogMaxSizeMB           = 10
	defaultLogMaxBackups          = 3
)

// represents the configuration for the app
type Config struct {
	ApiPort   string `json:"api_port" yaml:"api_port"`
	ConfigURL string `json:"config_url" yaml:"config_url"` // drone config store, answers {data: [...]}
	LogURL    string `json:"log_url" yaml:"log_url"`       // drone log collection, answers {items: [...]} per page

	LogDroneID float64           `json:"log_drone_id" yaml:"log_drone_id"` // identifier kept by GET /logs
	LogFields  map[string]string `json:"log_fields" yaml:"log_fields"`     // merged last into every appended log

	MaxPages               int `json:"max_pages" yaml:"max_pages"`                               // negative: unbounded
	UpstreamTimeoutSeconds int `json:"upstream_timeout_seconds" yaml:"upstream_timeout_seconds"` // negative: no timeout

	LogFile       string `json:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups" yaml:"log_max_backups"`

	Gzip bool `json:"gzip" yaml:"gzip"`
}

// returns a parsed json or yaml formatted configuration
func Parse(path string) (*Config, error) {
	config := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config file")
	}

	config.SetDefaults()

	log.Println("CONFIGURATION loaded:", path)

	return &config, nil
}

// fills every zero value with its default
func (c *Config) SetDefaults() {

	if c.ApiPort == "" {
		c.ApiPort = defaultApiPort
	}

	if c.ConfigURL == "" {
		c.ConfigURL = defaultConfigURL
	}

	if c.LogURL == "" {
		c.LogURL = defaultLogURL
	}

	if c.LogDroneID == 0 {
		c.LogDroneID = defaultDroneID
	}

	//an explicit empty map in the file keeps no fixed fields at all
	if c.LogFields == nil {
		c.LogFields = DefaultLogFields()
	}

	if c.MaxPages == 0 {
		c.MaxPages = defaultMaxPages
	}

	if c.UpstreamTimeoutSeconds == 0 {
		c.UpstreamTimeoutSeconds = defaultUpstreamTimeoutSeconds
	}

	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = defaultLogMaxSizeMB
	}

	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = defaultLogMaxBackups
	}
}

// returns the fixed fields of the deployment this gateway was written for
func DefaultLogFields() map[string]string {
	return map[string]string{
		"drone_id":   "65010312",
		"drone_name": "Natthapak",
		"country":    "Thailand",
	}
}

// returns a configuration holding only defaults
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}
