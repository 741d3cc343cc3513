package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"testfleet/pkg/logging"
)

const (
	userConfigDir  = ".config/testfleet"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/testfleet.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads config.yaml from configPath over the defaults, resolves
// paths and validates the result.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, NewConfigurationError(configFilePath, ErrorTypeIO, "failed to read configuration", err)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, NewConfigurationError(configFilePath, ErrorTypeParse, "malformed configuration", err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	config.Resolve(configPath)
	if errs := config.Validate(); errs.HasErrors() {
		return Config{}, NewConfigurationError(configFilePath, ErrorTypeValidation, "invalid configuration", errs)
	}
	return config, nil
}
