package config

// Config is the top-level YAML structure.
type Config struct {
	Server    ServerConf     `yaml:"server"`
	Store     StoreConf      `yaml:"store"`
	Engine    EngineConf     `yaml:"engine"`
	Providers []ProviderConf `yaml:"providers"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr          string `yaml:"addr"`
	ReadTimeoutS  int    `yaml:"read_timeout_s"`
	WriteTimeoutS int    `yaml:"write_timeout_s"`
}

// StoreConf holds graph store settings.
type StoreConf struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// EngineConf holds tunable concurrency and retry settings.
type EngineConf struct {
	Lanes          int `yaml:"lanes"`
	LaneDepth      int `yaml:"lane_depth"`
	ApplyTimeoutMs int `yaml:"apply_timeout_ms"`
	MaxAttempts    int `yaml:"max_attempts"`
	RetryBaseMs    int `yaml:"retry_base_ms"`
	RetryMaxMs     int `yaml:"retry_max_ms"`
	DedupWindowH   int `yaml:"dedup_window_h"`
}

// ProviderConf configures one webhook provider. The set of providers is
// fixed for the lifetime of the process; toggling a provider requires a
// restart so that registrations are never torn mid-request.
type ProviderConf struct {
	Name    string   `yaml:"name"`
	Enabled bool     `yaml:"enabled"`
	Secret  string   `yaml:"secret"`
	Events  []string `yaml:"events"` // empty = provider defaults
}
