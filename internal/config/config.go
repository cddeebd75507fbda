// Package config loads the sfmirror configuration: config.yaml (data
// directory, credential definitions) and the mapping graph files under
// mappings/. Mapping files are validated on load so a broken configuration
// fails before any sync pass starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/sfmirror/internal/salesforce"
	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

const (
	configFileName  = "config"
	configFileType  = "yaml"
	mappingsDirName = "mappings"

	cfgKeyDataDir     = "data_dir"
	cfgKeyCredentials = "credentials"
)

// Config is the loaded configuration.
type Config struct {
	// DataDir overrides the data directory; empty means "use the default".
	DataDir string

	// Credentials maps credential names to remote org secrets.
	Credentials map[string]salesforce.Credential

	// Mappings holds every validated mapping, sorted by file name.
	Mappings []*types.Mapping
}

// Credential returns the named credential.
func (c *Config) Credential(name string) (salesforce.Credential, error) {
	cred, ok := c.Credentials[name]
	if !ok {
		return salesforce.Credential{}, fmt.Errorf("credential %q is not configured", name)
	}
	return cred, nil
}

// Mapping returns the mapping with the given name, or nil.
func (c *Config) Mapping(name string) *types.Mapping {
	for _, m := range c.Mappings {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Load reads config.yaml and every mapping file under mappings/ in the given
// config directory. A missing config.yaml is not an error; a missing
// mappings directory just means no mappings.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:     v.GetString(cfgKeyDataDir),
		Credentials: make(map[string]salesforce.Credential),
	}

	// Credential structs carry yaml tags; tell the decoder to use them.
	yamlTags := viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err := v.UnmarshalKey(cfgKeyCredentials, &cfg.Credentials, yamlTags); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}

	mappings, err := loadMappings(filepath.Join(configDir, mappingsDirName))
	if err != nil {
		return nil, err
	}
	cfg.Mappings = mappings

	for _, m := range cfg.Mappings {
		if _, ok := cfg.Credentials[m.Credential]; !ok {
			return nil, fmt.Errorf("mapping %s: credential %q is not configured", m.Name, m.Credential)
		}
	}
	return cfg, nil
}

// loadMappings reads and validates every *.yaml / *.yml file in dir.
func loadMappings(dir string) ([]*types.Mapping, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mappings dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var mappings []*types.Mapping
	seen := make(map[string]string)
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mapping %s: %w", name, err)
		}

		var m types.Mapping
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse mapping %s: %w", name, err)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", name, err)
		}
		if prev, dup := seen[m.Name]; dup {
			return nil, fmt.Errorf("mapping name %q defined in both %s and %s", m.Name, prev, name)
		}
		seen[m.Name] = name
		mappings = append(mappings, &m)
	}
	return mappings, nil
}

// WriteDefaultConfig creates configDir, a starter config.yaml, and an empty
// mappings directory, leaving existing files alone.
func WriteDefaultConfig(configDir string) error {
	if err := os.MkdirAll(filepath.Join(configDir, mappingsDirName), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	path := filepath.Join(configDir, configFileName+"."+configFileType)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	content := strings.Join([]string{
		"# sfmirror configuration",
		"",
		"# Data directory (optional; overridable by --data-dir flag)",
		"# data_dir:",
		"",
		"# Remote org credentials, referenced by name from mapping files.",
		"# credentials:",
		"#   prod:",
		"#     username: sync@example.com",
		"#     password: secret",
		"#     security_token: token",
		"#     consumer_key: key",
		"#     consumer_secret: secret",
		"#     # token_url: " + salesforce.DefaultTokenURL,
		"#     # api_version: " + salesforce.DefaultAPIVersion,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
