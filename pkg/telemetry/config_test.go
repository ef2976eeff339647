package telemetry

import "testing"

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{
			name:    "production without endpoint",
			mutate:  func(c *Config) { *c = *ProductionConfig() },
			wantErr: true,
		},
		{
			name: "production with endpoint",
			mutate: func(c *Config) {
				*c = *ProductionConfig()
				c.Tracing.Endpoint = "collector:4317"
			},
		},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "no service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{
			name:    "metrics without address",
			mutate:  func(c *Config) { c.Metrics.ListenAddress = "" },
			wantErr: true,
		},
		{
			name:    "async events without buffer",
			mutate:  func(c *Config) { c.Events.BufferSize = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel("debug").String(); got != "debug" {
		t.Errorf("ParseLevel(debug) = %s", got)
	}
	if got := ParseLevel("nonsense").String(); got != "info" {
		t.Errorf("ParseLevel(nonsense) = %s, want info", got)
	}
}
