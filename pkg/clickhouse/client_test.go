package clickhouse

import (
	"testing"
	"time"
)

func TestNativeOptions(t *testing.T) {
	cfg := ClientConfig{Host: "ch.local", Port: 9000, Database: "quantgate", User: "gw", Password: "secret", DialTimeout: 5 * time.Second}
	WithAsyncInsert(true, false)(&cfg)

	o := nativeOptions(cfg)
	if len(o.Addr) != 1 || o.Addr[0] != "ch.local:9000" {
		t.Fatalf("addr: %v", o.Addr)
	}
	if o.Auth.Database != "quantgate" || o.Auth.Username != "gw" || o.Auth.Password != "secret" {
		t.Fatalf("auth: %+v", o.Auth)
	}
	if o.Settings["async_insert"] != 1 || o.Settings["wait_for_async_insert"] != 0 {
		t.Fatalf("settings: %v", o.Settings)
	}
	if o.DialTimeout != 5*time.Second {
		t.Fatalf("dial timeout: %s", o.DialTimeout)
	}
}

func TestNativeOptions_SyncInsert(t *testing.T) {
	o := nativeOptions(ClientConfig{Host: "::1", Port: 9440})
	if o.Addr[0] != "[::1]:9440" {
		t.Fatalf("ipv6 addr: %s", o.Addr[0])
	}
	if len(o.Settings) != 0 {
		t.Fatalf("unexpected settings: %v", o.Settings)
	}
}

func TestOptionsKeepDefaults(t *testing.T) {
	cfg := ClientConfig{Port: 9000, Database: "default", User: "default", DialTimeout: time.Second}
	WithPort(0)(&cfg)
	WithDatabase("")(&cfg)
	WithCredentials("", "pw")(&cfg)
	WithTimeouts(0, 3*time.Second)(&cfg)
	if cfg.Port != 9000 || cfg.Database != "default" || cfg.User != "default" || cfg.Password != "pw" {
		t.Fatalf("defaults overwritten: %+v", cfg)
	}
	if cfg.DialTimeout != time.Second || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("timeouts: %s %s", cfg.DialTimeout, cfg.ReadTimeout)
	}
}

func TestNewClient_RequiresHost(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatalf("expected error without host")
	}
}
