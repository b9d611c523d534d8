package brand

import (
	"path/filepath"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Name == "" {
		t.Error("Brand name should not be empty")
	}
	if Version == "" {
		t.Error("Global Version should be initialized (to dev default)")
	}
	if DefaultPort != 5050 {
		t.Errorf("DefaultPort = %d, want 5050", DefaultPort)
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent("1.0.0"); ua != "discoverd/1.0.0" {
		t.Errorf("UserAgent = %q", ua)
	}
	if ua := UserAgent(""); ua != "discoverd/dev" {
		t.Errorf("UserAgent default = %q", ua)
	}
}

func TestGetDirectories(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv(ConfigEnvPrefix+"_PREFIX", "")
		t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
		t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
		if got := GetStateDir(); got != DefaultStateDir {
			t.Errorf("GetStateDir() = %q, want %q", got, DefaultStateDir)
		}
		if got := GetConfigPath(); got != filepath.Join(DefaultConfigDir, ConfigFileName) {
			t.Errorf("GetConfigPath() = %q", got)
		}
	})

	t.Run("Prefix", func(t *testing.T) {
		t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "")
		t.Setenv(ConfigEnvPrefix+"_CONFIG_DIR", "")
		t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/discoverd")
		if got := GetDatabasePath(); got != "/opt/discoverd/state/discoverd.sqlite" {
			t.Errorf("GetDatabasePath() = %q", got)
		}
		if got := GetConfigDir(); got != "/opt/discoverd/config" {
			t.Errorf("GetConfigDir() = %q", got)
		}
	})

	t.Run("Explicit", func(t *testing.T) {
		t.Setenv(ConfigEnvPrefix+"_PREFIX", "/opt/discoverd")
		t.Setenv(ConfigEnvPrefix+"_STATE_DIR", "/srv/state")
		if got := GetStateDir(); got != "/srv/state" {
			t.Errorf("GetStateDir() = %q, want /srv/state", got)
		}
	})
}
