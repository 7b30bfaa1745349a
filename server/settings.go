package server

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"
)

// Settings is the daemon's own configuration, read from a YAML
// file.  This is deliberately separate from the hook-side
// `tracelib.xml`: that file travels with instrumented applications,
// this one with the collector deployment.
type Settings struct {
	// TCP port to accept trace streams on.
	Port int `mapstructure:"port"`

	// Pathname of the trace database.  Opened if present,
	// created with the schema otherwise.
	DatabasePath string `mapstructure:"database"`

	// Seconds to wait for in-flight transactions on shutdown.
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds"`
}

// Validate checks the settings and fills in defaults.
func (s *Settings) Validate() error {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	if len(s.DatabasePath) == 0 {
		return fmt.Errorf("database path not defined")
	}
	if s.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("shutdown_grace_seconds must not be negative")
	}
	return nil
}

type settingsFileTypes interface {
	Settings
}

type settingsParseBufferFn[T settingsFileTypes] func(data []byte, path string) (*T, error)

func parseYmlFile[T settingsFileTypes](path string, fnPB settingsParseBufferFn[T]) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read YML '%s': '%s'",
			path, err.Error())
	}

	return fnPB(data, path)
}

func parseYmlBuffer[T settingsFileTypes](data []byte, path string) (*T, error) {
	m := make(map[interface{}]interface{})
	err := yaml.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("could not parse YAML '%s': '%s'",
			path, err.Error())
	}

	p := new(T)
	err = mapstructure.Decode(m, p)
	if err != nil {
		return nil, fmt.Errorf("could not decode '%s': '%s'",
			path, err.Error())
	}

	return p, nil
}

// LoadSettings reads a daemon settings file.  Callers overlay
// command-line overrides before running Validate.
func LoadSettings(path string) (*Settings, error) {
	return parseYmlFile(path, parseYmlBuffer[Settings])
}
