// Package config loads the optional, low-priority YAML defaults file
// that seeds --host and -l/--logging before CLI flags are applied. It is
// pure ambient convenience: no operation's semantics depend on it, and
// its absence is silent, not an error.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults holds the subset of CLI flags this file can seed.
type Defaults struct {
	Host    string `yaml:"host"`
	Logging int    `yaml:"logging"`
}

// Load reads $XDG_CONFIG_HOME/containerdiff/config.yaml (falling back to
// ~/.config/containerdiff/config.yaml when XDG_CONFIG_HOME is unset). A
// missing file returns zero Defaults and no error; a malformed file
// returns an error so the caller can decide whether to proceed with
// built-in defaults or fail.
func Load() (Defaults, error) {
	path, err := configPath()
	if err != nil {
		return Defaults{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults{}, nil
		}
		return Defaults{}, err
	}

	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

func configPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "containerdiff", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "containerdiff", "config.yaml"), nil
}
