package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/ini.v1"

	"github.com/openfroyo/gatewaysetup/pkg/engine"
)

// LoadDotEnv reads KEY=value pairs from a .env file. A missing file
// yields an empty map.
func LoadDotEnv(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return values, nil
	}

	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:       true,
		UnescapeValueDoubleQuotes: true,
		SkipUnrecognizableLines:   true,
		KeyValueDelimiters:        "=",
	}, path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read env file %s", path), err).
			WithRemediation("Use one KEY=value pair per line in the .env file")
	}

	for _, key := range file.Section(ini.DefaultSection).Keys() {
		values[key.Name()] = key.Value()
	}
	return values, nil
}

// Environment looks variables up in the .env overlay first, then in the
// process environment.
func Environment(overlay map[string]string) func(name string) (string, bool) {
	return func(name string) (string, bool) {
		if v, ok := overlay[name]; ok {
			return v, true
		}
		return os.LookupEnv(name)
	}
}

// LookupEnv loads the configured .env file and returns the combined
// lookup.
func (c *Config) LookupEnv() (func(name string) (string, bool), error) {
	overlay, err := LoadDotEnv(c.EnvFile)
	if err != nil {
		return nil, err
	}
	return Environment(overlay), nil
}
