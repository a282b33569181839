package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("DELIVERY_MODE", "log")
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("DISPATCH_TIMEOUT", "2s")
	t.Setenv("MAX_PAGE_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageBackend != BackendMemory || cfg.DispatchTimeout != 2*time.Second || cfg.MaxPageSize != 100 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		StorageBackend:  BackendRedis,
		DatabaseURL:     "postgres://localhost/msgcenter",
		DeliveryMode:    DeliveryLog,
		DispatchTimeout: 10 * time.Second,
		DispatchGrace:   time.Second,
		LockTTL:         30 * time.Second,
		MaxPageSize:     100,
		Quotas:          "sms=10/1s,billing:sms=50/1s",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.StorageBackend = "etcd" }},
		{"redis without database", func(c *Config) { c.DatabaseURL = "" }},
		{"delivery", func(c *Config) { c.DeliveryMode = "smtp" }},
		{"queue without broker", func(c *Config) { c.StorageBackend = BackendMemory; c.DeliveryMode = DeliveryQueue }},
		{"lock ttl", func(c *Config) { c.LockTTL = c.DispatchTimeout }},
		{"lock ttl within grace", func(c *Config) { c.LockTTL = c.DispatchTimeout + c.DispatchGrace/2 }},
		{"negative grace", func(c *Config) { c.DispatchGrace = -time.Second }},
		{"quotas", func(c *Config) { c.Quotas = "sms=ten/1s" }},
		{"page size", func(c *Config) { c.MaxPageSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}
