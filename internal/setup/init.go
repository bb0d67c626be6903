// Package setup initializes the scheduler base directory and loads its
// configuration.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/tq/internal/atomicfile"
	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/templates"
)

// Options overrides template values when initializing. Empty fields keep
// the template value.
type Options struct {
	Shell        string
	DeviceID     string
	QueryCommand string
	// DisableOccupancy writes an empty query command.
	DisableOccupancy bool
	// Force replaces an existing config.yaml.
	Force bool
}

func (o Options) customized() bool {
	return o.Shell != "" || o.DeviceID != "" || o.QueryCommand != "" || o.DisableOccupancy
}

// Init creates the directory layout under layout.BaseDir and writes
// config.yaml. Without overrides the commented template is copied verbatim.
func Init(layout model.Layout, opts Options) error {
	if err := layout.EnsureDirs(); err != nil {
		return err
	}

	path := layout.ConfigFile()
	if _, err := os.Stat(path); err == nil && !opts.Force {
		return fmt.Errorf("%s already exists", path)
	}

	if !opts.customized() {
		data, err := fs.ReadFile(templates.FS, "config.yaml")
		if err != nil {
			return fmt.Errorf("read config template: %w", err)
		}
		return atomicfile.WriteFile(path, data, 0644)
	}

	cfg, err := generateConfig(opts)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	return atomicfile.WriteYAML(path, cfg)
}

func generateConfig(opts Options) (*model.Config, error) {
	cfg, err := templateConfig()
	if err != nil {
		return nil, err
	}

	if opts.Shell != "" {
		cfg.Daemon.Shell = opts.Shell
	}
	if opts.DeviceID != "" {
		cfg.Device.ID = opts.DeviceID
	}
	if opts.QueryCommand != "" {
		cfg.Device.QueryCommand = opts.QueryCommand
	}
	if opts.DisableOccupancy {
		cfg.Device.QueryCommand = ""
	}
	return &cfg, nil
}

func templateConfig() (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}
	cfg := model.DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config template: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads config.yaml over the defaults. A missing file yields the
// defaults.
func LoadConfig(path string) (model.Config, error) {
	cfg := model.DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
