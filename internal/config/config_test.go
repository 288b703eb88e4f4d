package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvAPIURL, EnvStorage, EnvRedisAddr, EnvLogLevel, EnvNamespace, EnvMerge} {
		t.Setenv(key, "")
	}
}

func TestLoad_MissingConfigFallsBackToDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIURL != defaultAPIURL {
		t.Fatalf("APIURL = %q, want %q", cfg.APIURL, defaultAPIURL)
	}
	if cfg.Storage != StorageFile {
		t.Fatalf("Storage = %q, want %q", cfg.Storage, StorageFile)
	}

	wantState, err := expandPath(defaultStatePath)
	if err != nil {
		t.Fatalf("expandPath(defaultStatePath) returned error: %v", err)
	}
	if cfg.StatePath != wantState {
		t.Fatalf("StatePath = %q, want %q", cfg.StatePath, wantState)
	}
	if cfg.RequestTimeout != defaultRequestTimeout || cfg.RetryInterval != defaultRetryInterval {
		t.Fatalf("durations = %v/%v, want defaults", cfg.RequestTimeout, cfg.RetryInterval)
	}
	if cfg.MinOrderTotal.String() != defaultMinOrderTotal {
		t.Fatalf("MinOrderTotal = %s, want %s", cfg.MinOrderTotal, defaultMinOrderTotal)
	}
}

func TestLoad_ParsesAndTrimsConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
api_url = "  https://shop.example.com/api  "
storage = " Redis "
state_path = "  ~/.storefront/state.toml  "
namespace = "shop"
redis_addr = "10.0.0.5:6380"
redis_db = 2
log_level = "debug"
log_format = "json"
request_timeout = "3s"
remote_rate = 2.5
retry_interval = "15"
min_order_total = "1.00"
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIURL != "https://shop.example.com/api" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.Storage != StorageRedis || cfg.RedisAddr != "10.0.0.5:6380" || cfg.RedisDB != 2 {
		t.Fatalf("redis settings = %q %q %d", cfg.Storage, cfg.RedisAddr, cfg.RedisDB)
	}
	if !strings.HasPrefix(cfg.StatePath, home) {
		t.Fatalf("StatePath = %q, want it under HOME %q", cfg.StatePath, home)
	}
	if cfg.Namespace != "shop" || cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected cfg %#v", cfg)
	}
	if cfg.RequestTimeout != 3*time.Second || cfg.RetryInterval != 15*time.Second {
		t.Fatalf("durations = %v/%v", cfg.RequestTimeout, cfg.RetryInterval)
	}
	if cfg.RemoteRate != 2.5 {
		t.Fatalf("RemoteRate = %v, want 2.5", cfg.RemoteRate)
	}
	if cfg.MinOrderTotal.StringFixed(2) != "1.00" {
		t.Fatalf("MinOrderTotal = %s", cfg.MinOrderTotal)
	}
}

func TestLoad_EmptyValuesUseDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`
api_url = "   "
storage = ""
`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIURL != defaultAPIURL {
		t.Fatalf("APIURL = %q, want %q", cfg.APIURL, defaultAPIURL)
	}
	if cfg.Storage != StorageFile {
		t.Fatalf("Storage = %q, want %q", cfg.Storage, StorageFile)
	}
	if cfg.RemoteRate != defaultRemoteRate {
		t.Fatalf("RemoteRate = %v, want %v", cfg.RemoteRate, defaultRemoteRate)
	}
}

func TestLoad_InvalidTOMLFails(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`api_url = [`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatalf("Load returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("Load error = %q, want it to mention parse config", err.Error())
	}
}

func TestLoad_InvalidValuesFail(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"duration": `request_timeout = "soon"`,
		"total":    `min_order_total = "-1"`,
		"rate":     `remote_rate = -3.0`,
		"storage":  `storage = "floppy"`,
		"policy":   `merge_policy = "newest"`,
		"workers":  `merge_concurrency = -1`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("Load(%s) returned nil error", body)
			}
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`api_url = "http://file/api"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("STOREFRONT_API_URL=http://env/api\nSTOREFRONT_STORAGE=memory\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// godotenv never overrides variables that are already set, even to "".
	os.Unsetenv(EnvAPIURL)
	os.Unsetenv(EnvStorage)
	t.Cleanup(func() {
		os.Unsetenv(EnvAPIURL)
		os.Unsetenv(EnvStorage)
	})

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile returned error: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIURL != "http://env/api" || cfg.Storage != StorageMemory {
		t.Fatalf("env overrides not applied: %q %q", cfg.APIURL, cfg.Storage)
	}
}

func TestLoad_MergeSettings(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("merge_policy = \" Sum \"\nmerge_concurrency = 8\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MergePolicy != "sum" || cfg.MergeConcurrency != 8 {
		t.Fatalf("merge settings = %q/%d, want sum/8", cfg.MergePolicy, cfg.MergeConcurrency)
	}

	t.Setenv(EnvMerge, "REMOTE")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MergePolicy != "remote" {
		t.Fatalf("MergePolicy = %q, want env override remote", cfg.MergePolicy)
	}
}

func TestLoadEnvFile_MissingIsNotAnError(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnvFile returned error: %v", err)
	}
}

func TestExpandPath_ExpandsTildeAndReturnsAbs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := expandPath("~/a/b")
	if err != nil {
		t.Fatalf("expandPath returned error: %v", err)
	}
	want := filepath.Join(home, "a/b")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}

func TestExpandPath_EmptyErrors(t *testing.T) {
	if _, err := expandPath("   "); err == nil {
		t.Fatalf("expandPath returned nil error, want error")
	}
}
