package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
server:
  addr: ":9090"
store:
  path: "tmp/graph"
engine:
  lanes: 4
  max_attempts: 2
providers:
  - name: clickup
    enabled: true
    secret: "s3cret"
  - name: github
    enabled: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graphsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	l, err := NewLoader(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg := l.Config()

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.Lanes != 4 {
		t.Errorf("lanes = %d", cfg.Engine.Lanes)
	}
	// Unset tunables pick up defaults.
	if cfg.Engine.LaneDepth != 256 {
		t.Errorf("lane_depth default = %d", cfg.Engine.LaneDepth)
	}
	if cfg.Engine.DedupWindowH != 72 {
		t.Errorf("dedup_window_h default = %d", cfg.Engine.DedupWindowH)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[0].Name != "clickup" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{
			"no providers",
			func(c *Config) { c.Providers = nil },
			"at least one provider",
		},
		{
			"duplicate provider",
			func(c *Config) { c.Providers = append(c.Providers, ProviderConf{Name: "clickup"}) },
			`duplicate provider "clickup"`,
		},
		{
			"missing name",
			func(c *Config) { c.Providers[0].Name = "" },
			"name is required",
		},
		{
			"retry window inverted",
			func(c *Config) { c.Engine.RetryBaseMs = 10000 },
			"retry_max_ms",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLoader(writeConfig(t, sampleYAML))
			if err != nil {
				t.Fatal(err)
			}
			cfg := l.Config()
			tc.mutate(cfg)
			err = Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %v, want substring %q", err, tc.wantErr)
			}
		})
	}
}
