package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config describes the device geometry flashctl operates on, so repeat
// invocations don't need the full flag set every time. The file is JSON
// with comments and trailing commas permitted.
type Config struct {
	ImagePath    string `json:"image_path"`
	TotalSize    uint32 `json:"total_size"`
	EraseAllowed bool   `json:"erase_allowed"`
}

// ConfigFileName is looked up in the working directory.
const ConfigFileName = ".flashctl.json"

// DefaultConfig returns the configuration used when no config file
// exists and no flags override it.
func DefaultConfig() Config {
	return Config{
		ImagePath:    "flash.img",
		TotalSize:    64 * 1024,
		EraseAllowed: false,
	}
}

// LoadConfig reads path if it exists, layered over the defaults. A
// missing file is not an error; a malformed one is.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := json.Unmarshal(std, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
