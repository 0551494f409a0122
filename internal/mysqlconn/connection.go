// Package mysqlconn is the lowest layer of the data flow described in
// SPEC_FULL.md §2: it turns a resolved connection descriptor into an
// authenticated *sql.DB session. The instance pool (§4.5) builds on top of
// this package to cache sessions by fingerprint.
package mysqlconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// ConnectionConfig holds the parameters needed to open a session against a
// single instance. It is the runtime-resolved form of an
// options.ConnectionOptions bag (§4.6); the options package is responsible
// for validation and defaulting, this package only knows how to dial.
type ConnectionConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Socket   string
	TLSMode  string // "", "disabled", "preferred", "required", "skip-verify", "custom"
	TLSCA    string // path to CA certificate file (required when TLSMode == "custom")
}

// Fingerprint identifies the cache slot the instance pool (§4.5) keys
// sessions by: (host, port, user, auth-kind). Two configs that would dial
// the same authenticated session share a fingerprint.
func (c ConnectionConfig) Fingerprint() string {
	authKind := "password"
	if c.TLSMode == "custom" {
		authKind = "cert:" + c.TLSCA
	}
	if c.Socket != "" {
		return fmt.Sprintf("socket:%s|%s|%s", c.Socket, c.User, authKind)
	}
	return fmt.Sprintf("tcp:%s:%d|%s|%s", c.Host, c.Port, c.User, authKind)
}

// Connect establishes a MySQL connection.
func Connect(cfg ConnectionConfig) (*sql.DB, error) {
	// Register custom TLS config before building DSN
	if cfg.TLSMode == "custom" {
		if cfg.TLSCA == "" {
			return nil, fmt.Errorf("--tls-ca is required when --tls=custom")
		}
		if err := registerCustomTLS(cfg.TLSCA); err != nil {
			return nil, fmt.Errorf("TLS setup failed: %w", err)
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	// Verify the connection actually works
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	// Conservative connection pool: each instance pool entry holds one
	// authenticated session per fingerprint, shared by reference (§4.5).
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)

	return db, nil
}

// registerCustomTLS reads a CA certificate PEM file and registers it as a named TLS config.
func registerCustomTLS(caPath string) error {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate %q: %w", caPath, err)
	}

	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no valid certificates found in %q", caPath)
	}

	return mysqldriver.RegisterTLSConfig("clusterctl-custom", &tls.Config{
		RootCAs: rootCAs,
	})
}

func buildDSN(cfg ConnectionConfig) (string, error) {
	// Validate TLS mode
	switch cfg.TLSMode {
	case "", "disabled", "preferred", "required", "skip-verify", "custom":
		// valid
	default:
		return "", fmt.Errorf("invalid TLS mode %q: valid values are disabled, preferred, required, skip-verify, custom", cfg.TLSMode)
	}

	// Format: user:password@protocol(address)/dbname?params
	var addr string
	if cfg.Socket != "" {
		addr = fmt.Sprintf("unix(%s)", cfg.Socket)
	} else {
		addr = fmt.Sprintf("tcp(%s:%d)", cfg.Host, cfg.Port)
	}

	db := cfg.Database
	if db == "" {
		db = "information_schema"
	}

	dsn := fmt.Sprintf("%s:%s@%s/%s?parseTime=true&interpolateParams=true",
		cfg.User, cfg.Password, addr, db)

	// Append TLS parameter
	switch cfg.TLSMode {
	case "preferred":
		dsn += "&tls=preferred"
	case "required":
		dsn += "&tls=true"
	case "skip-verify":
		dsn += "&tls=skip-verify"
	case "custom":
		dsn += "&tls=clusterctl-custom"
		// "" and "disabled" → no TLS param (current behavior)
	}

	return dsn, nil
}
