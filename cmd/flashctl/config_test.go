package main

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_LoadConfig_Returns_Defaults_When_File_Missing(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults %+v", cfg, DefaultConfig())
	}
}

func Test_LoadConfig_Accepts_Comments_And_Trailing_Commas(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFileName)
	raw := `{
		// simulated 128 KiB part
		"image_path": "dev.img",
		"total_size": 131072,
		"erase_allowed": true, // trailing comma below too
	}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ImagePath != "dev.img" || cfg.TotalSize != 131072 || !cfg.EraseAllowed {
		t.Errorf("cfg = %+v", cfg)
	}
}

func Test_LoadConfig_Rejects_Malformed_Input(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"total_size": }`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed config accepted")
	}
}
