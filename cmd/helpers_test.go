package cmd

import (
	"testing"

	"github.com/spf13/viper"
)

func TestConnectionConfigFromFlags_Defaults(t *testing.T) {
	viper.Reset()
	viper.Set("host", "")
	viper.Set("user", "")
	viper.Set("password", "not-empty-so-no-prompt")
	viper.Set("socket", "")

	cfg := connectionConfigFromFlags()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.User != "clusterctl" {
		t.Errorf("User = %q, want clusterctl", cfg.User)
	}
}

func TestConnectionConfigFromFlags_SocketSkipsHostDefault(t *testing.T) {
	viper.Reset()
	viper.Set("host", "")
	viper.Set("socket", "/var/run/mysqld/mysqld.sock")
	viper.Set("password", "x")

	cfg := connectionConfigFromFlags()

	if cfg.Host != "" {
		t.Errorf("Host should stay empty when a socket is given, got %q", cfg.Host)
	}
	if cfg.Socket != "/var/run/mysqld/mysqld.sock" {
		t.Errorf("Socket = %q, want the configured path", cfg.Socket)
	}
}

func TestConnectionConfigFromFlags_ExplicitValuesWin(t *testing.T) {
	viper.Reset()
	viper.Set("host", "db.example.com")
	viper.Set("port", 3307)
	viper.Set("user", "admin")
	viper.Set("database", "prod")
	viper.Set("password", "secret")

	cfg := connectionConfigFromFlags()

	if cfg.Host != "db.example.com" || cfg.Port != 3307 || cfg.User != "admin" || cfg.Database != "prod" || cfg.Password != "secret" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
