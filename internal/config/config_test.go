package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults() does not validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "unknown mode", mutate: func(c *Config) {
			c.Mode = "worker"
		}, want: `unknown mode "worker"`},
		{name: "unknown log level", mutate: func(c *Config) {
			c.LogLevel = "trace"
		}, want: "unknown log_level"},
		{name: "missing database host", mutate: func(c *Config) {
			c.Database.Host = ""
		}, want: "database: host must not be empty"},
		{name: "bad database port", mutate: func(c *Config) {
			c.Database.Port = 70000
		}, want: "database: port must be 1-65535"},
		{name: "dsn bypasses host checks", mutate: func(c *Config) {
			c.Database.DSN = "postgres://u:p@db:5432/pancho"
			c.Database.Host = ""
			c.Database.Port = 0
			c.Database.Database = ""
		}, want: ""},
		{name: "pool min over max", mutate: func(c *Config) {
			c.Database.PoolMinConns = 20
		}, want: "pool_min_conns must not exceed pool_max_conns"},
		{name: "missing redis addr", mutate: func(c *Config) {
			c.Redis.Addr = ""
		}, want: "redis: addr must not be empty"},
		{name: "s3 enabled without bucket", mutate: func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = ""
		}, want: "s3: bucket must not be empty"},
		{name: "s3 disabled skips checks", mutate: func(c *Config) {
			c.S3.Bucket = ""
			c.S3.Endpoint = ""
		}, want: ""},
		{name: "missing oracle url", mutate: func(c *Config) {
			c.Oracle.RPCURL = ""
		}, want: "oracle: rpc_url must not be empty"},
		{name: "zero oracle timeout", mutate: func(c *Config) {
			c.Oracle.Timeout = duration{}
		}, want: "oracle: timeout must be > 0"},
		{name: "keeper without intervals", mutate: func(c *Config) {
			c.Keeper.LockInterval = duration{}
		}, want: "keeper: lock_interval must be > 0"},
		{name: "retention under a day", mutate: func(c *Config) {
			c.Keeper.ArchiveRetentionDays = 0
		}, want: "archive_retention_days must be >= 1"},
		{name: "full mode with everything disabled", mutate: func(c *Config) {
			c.Server.Enabled = false
			c.Keeper.Enabled = false
		}, want: "mode full requires server or keeper to be enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestValidateCombinesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Redis.Addr = ""
	cfg.Oracle.RPCURL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want combined error")
	}
	for _, want := range []string{"unknown mode", "redis: addr", "oracle: rpc_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error %q missing %q", err, want)
		}
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5s", want: 5 * time.Second},
		{in: "1m30s", want: 90 * time.Second},
		{in: "6h", want: 6 * time.Hour},
		{in: "not-a-duration", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var d duration
			err := d.UnmarshalText([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, d.Duration, tt.want)
			}
		})
	}
}
