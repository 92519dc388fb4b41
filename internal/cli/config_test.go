package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigSaveAndLoad(t *testing.T) {
	// Use a temp dir as home
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)

	cfg := CLIConfig{
		ServerURL: "http://myhost:9090",
		Token:     "header.payload.signature",
		Session:   "01J2ABCDEF",
	}

	if err := saveConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	path := filepath.Join(tmp, ".config", "rf", "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not found: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != cfg {
		t.Errorf("loaded = %+v, want %+v", loaded, cfg)
	}
}

func TestConfigLoadMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if cfg != (CLIConfig{}) {
		t.Error("expected zero-value config for missing file")
	}
}

func TestUpdateConfigPreservesFields(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if err := saveConfig(CLIConfig{ServerURL: "http://myhost:9090", Token: "tok"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := updateConfig(func(cfg *CLIConfig) { cfg.Session = "s1" }); err != nil {
		t.Fatalf("update: %v", err)
	}

	loaded, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := CLIConfig{ServerURL: "http://myhost:9090", Token: "tok", Session: "s1"}
	if loaded != want {
		t.Errorf("loaded = %+v, want %+v", loaded, want)
	}
}

func TestGetServerURLFromEnv(t *testing.T) {
	t.Setenv("RF_SERVER_URL", "http://custom:1234")
	t.Setenv("HOME", t.TempDir())

	url := getServerURL()
	if url != "http://custom:1234" {
		t.Errorf("url = %q, want %q", url, "http://custom:1234")
	}
}

func TestGetServerURLDefault(t *testing.T) {
	t.Setenv("RF_SERVER_URL", "")
	t.Setenv("HOME", t.TempDir())

	url := getServerURL()
	if url != "http://localhost:8080" {
		t.Errorf("url = %q, want %q", url, "http://localhost:8080")
	}
}

func TestGetTokenFromEnv(t *testing.T) {
	t.Setenv("RF_TOKEN", "envtoken")
	t.Setenv("HOME", t.TempDir())

	if got := getToken(); got != "envtoken" {
		t.Errorf("token = %q, want %q", got, "envtoken")
	}
}

func TestGetTokenFromConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RF_TOKEN", "")

	if err := saveConfig(CLIConfig{Token: "configtoken"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if got := getToken(); got != "configtoken" {
		t.Errorf("token = %q, want %q", got, "configtoken")
	}
}

func TestGetTokenEmpty(t *testing.T) {
	t.Setenv("RF_TOKEN", "")
	t.Setenv("HOME", t.TempDir())

	if got := getToken(); got != "" {
		t.Errorf("token = %q, want empty", got)
	}
}

func TestCurrentSession(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RF_SESSION", "")
	flagSession = ""
	t.Cleanup(func() { flagSession = "" })

	if _, err := currentSession(); err == nil {
		t.Fatal("expected error with no session selected")
	}

	if err := saveConfig(CLIConfig{Session: "from-config"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if sid, _ := currentSession(); sid != "from-config" {
		t.Errorf("session = %q, want from-config", sid)
	}

	t.Setenv("RF_SESSION", "from-env")
	if sid, _ := currentSession(); sid != "from-env" {
		t.Errorf("session = %q, want from-env", sid)
	}

	flagSession = "http://localhost:8080/session/from-flag"
	if sid, _ := currentSession(); sid != "from-flag" {
		t.Errorf("session = %q, want from-flag", sid)
	}
}

func TestParseSessionRef(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"01J2ABCDEF", "01J2ABCDEF"},
		{"  01J2ABCDEF ", "01J2ABCDEF"},
		{"http://localhost:8080/session/01J2ABCDEF", "01J2ABCDEF"},
		{"https://rent.example.com/session/01J2ABCDEF/listings/x", "01J2ABCDEF"},
		{"https://rent.example.com/session/01J2ABCDEF?error=x", "01J2ABCDEF"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := parseSessionRef(tt.ref); got != tt.want {
			t.Errorf("parseSessionRef(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}
