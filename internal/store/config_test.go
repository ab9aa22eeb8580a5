package store

import (
	"strings"
	"testing"
	"time"
)

func TestNewDefaultOlricConfig(t *testing.T) {
	cfg := NewDefaultOlricConfig()

	if cfg.BindAddr != "0.0.0.0" {
		t.Errorf("BindAddr = %s, want 0.0.0.0", cfg.BindAddr)
	}
	if cfg.BindPort != 3320 {
		t.Errorf("BindPort = %d, want 3320", cfg.BindPort)
	}
	if cfg.ReplicationMode != "async" {
		t.Errorf("ReplicationMode = %s, want async", cfg.ReplicationMode)
	}
	if cfg.ReplicationFactor != 1 {
		t.Errorf("ReplicationFactor = %d, want 1", cfg.ReplicationFactor)
	}
	if cfg.PartitionCount != 271 {
		t.Errorf("PartitionCount = %d, want 271", cfg.PartitionCount)
	}
	if cfg.MemberCountQuorum != 1 {
		t.Errorf("MemberCountQuorum = %d, want 1", cfg.MemberCountQuorum)
	}
	if cfg.LogLevel != "WARN" {
		t.Errorf("LogLevel = %s, want WARN", cfg.LogLevel)
	}
	if cfg.DMapName != "document-locks" {
		t.Errorf("DMapName = %s, want document-locks", cfg.DMapName)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %s, want 5s", cfg.RequestTimeout)
	}
}

func TestOlricConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *OlricConfig)
		errMsg string
	}{
		{name: "valid default config", mutate: func(c *OlricConfig) {}},
		{name: "loopback bind address", mutate: func(c *OlricConfig) { c.BindAddr = "127.0.0.1" }},
		{name: "ipv6 bind address", mutate: func(c *OlricConfig) { c.BindAddr = "::" }},
		{
			name:   "empty bind address",
			mutate: func(c *OlricConfig) { c.BindAddr = "" },
			errMsg: "bind address cannot be empty",
		},
		{
			name:   "hostname bind address",
			mutate: func(c *OlricConfig) { c.BindAddr = "localhost" },
			errMsg: "bind address must be a valid",
		},
		{
			name:   "port too low",
			mutate: func(c *OlricConfig) { c.BindPort = 0 },
			errMsg: "bind port must be between",
		},
		{
			name:   "port too high",
			mutate: func(c *OlricConfig) { c.BindPort = 65536 },
			errMsg: "bind port must be between",
		},
		{
			name:   "bad advertise address",
			mutate: func(c *OlricConfig) { c.AdvertiseAddr = "not-an-ip" },
			errMsg: "advertise address",
		},
		{
			name:   "bad memberlist port",
			mutate: func(c *OlricConfig) { c.MemberlistBindPort = 70000 },
			errMsg: "memberlist bind port",
		},
		{
			name:   "bad replication mode",
			mutate: func(c *OlricConfig) { c.ReplicationMode = "eventual" },
			errMsg: "replication mode",
		},
		{
			name:   "zero replication factor",
			mutate: func(c *OlricConfig) { c.ReplicationFactor = 0 },
			errMsg: "replication factor must be at least 1",
		},
		{
			name:   "zero partitions",
			mutate: func(c *OlricConfig) { c.PartitionCount = 0 },
			errMsg: "partition count",
		},
		{
			name:   "zero quorum",
			mutate: func(c *OlricConfig) { c.MemberCountQuorum = 0 },
			errMsg: "member count quorum",
		},
		{
			name:   "zero join retry interval",
			mutate: func(c *OlricConfig) { c.JoinRetryInterval = 0 },
			errMsg: "join retry interval",
		},
		{
			name:   "zero join attempts",
			mutate: func(c *OlricConfig) { c.MaxJoinAttempts = 0 },
			errMsg: "max join attempts",
		},
		{
			name:   "lowercase log level",
			mutate: func(c *OlricConfig) { c.LogLevel = "warn" },
			errMsg: "invalid log level",
		},
		{
			name:   "zero keep alive",
			mutate: func(c *OlricConfig) { c.KeepAlivePeriod = 0 },
			errMsg: "keep alive period",
		},
		{
			name:   "zero request timeout",
			mutate: func(c *OlricConfig) { c.RequestTimeout = 0 },
			errMsg: "request timeout",
		},
		{
			name:   "empty dmap name",
			mutate: func(c *OlricConfig) { c.DMapName = "" },
			errMsg: "dmap name",
		},
		{
			name: "quorum larger than cluster",
			mutate: func(c *OlricConfig) {
				c.JoinAddrs = []string{"10.0.0.2:3320"}
				c.ReplicationFactor = 2
				c.MemberCountQuorum = 3
			},
			errMsg: "member count quorum (3)",
		},
		{
			name: "cluster without replication",
			mutate: func(c *OlricConfig) {
				c.JoinAddrs = []string{"10.0.0.2:3320", "10.0.0.3:3320"}
				c.MemberCountQuorum = 2
			},
			errMsg: "replication factor should be at least 2",
		},
		{
			name: "valid cluster",
			mutate: func(c *OlricConfig) {
				c.JoinAddrs = []string{"10.0.0.2:3320", "10.0.0.3:3320"}
				c.ReplicationFactor = 2
				c.MemberCountQuorum = 2
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultOlricConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestOlricConfig_IsSingleNode(t *testing.T) {
	cfg := NewDefaultOlricConfig()
	if !cfg.IsSingleNode() {
		t.Error("IsSingleNode() = false for config without peers")
	}

	cfg.JoinAddrs = []string{"10.0.0.2:3320"}
	if cfg.IsSingleNode() {
		t.Error("IsSingleNode() = true for config with peers")
	}
}
