package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/custom/diffit.toml")
		t.Setenv(EnvHome, "/srv/diffit")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}
		want := Defaults{
			ConfigPath: "/custom/diffit.toml",
			BaseDir:    "/srv/diffit",
			LogDir:     filepath.Join("/srv/diffit", "log"),
		}
		if *d != want {
			t.Errorf("GetDefaults() = %+v, want %+v", *d, want)
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv(EnvHome, "")

		d, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "diffit")
		want := Defaults{
			ConfigPath: filepath.Join(homeDir, ".config", "diffit.toml"),
			BaseDir:    wantBase,
			LogDir:     filepath.Join(wantBase, "log"),
		}
		if *d != want {
			t.Errorf("GetDefaults() = %+v, want %+v", *d, want)
		}
	})
}
