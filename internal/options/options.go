// Package options implements the connection-options model consumed by the
// instance pool: a typed key/value bag with core, SSL, and extra
// visibilities, plus a URI parser/formatter for the grammar the tool accepts
// on the command line and in metadata-store connection records.
package options

import (
	"sort"
	"strconv"
	"strings"

	"github.com/clusterctl/core/internal/clustererr"
)

// TransportType is derived from which core option (host, socket, or pipe)
// is set.
type TransportType string

const (
	TransportTCP    TransportType = "Tcp"
	TransportSocket TransportType = "Socket"
	TransportPipe   TransportType = "Pipe"
)

// SSLMode is the cross-constrained SSL visibility mode.
type SSLMode string

const (
	SSLDisabled       SSLMode = "DISABLED"
	SSLPreferred      SSLMode = "PREFERRED"
	SSLRequired       SSLMode = "REQUIRED"
	SSLVerifyCA       SSLMode = "VERIFY_CA"
	SSLVerifyIdentity SSLMode = "VERIFY_IDENTITY"
)

func parseSSLMode(s string) (SSLMode, error) {
	switch strings.ToUpper(s) {
	case string(SSLDisabled):
		return SSLDisabled, nil
	case string(SSLPreferred):
		return SSLPreferred, nil
	case string(SSLRequired):
		return SSLRequired, nil
	case string(SSLVerifyCA):
		return SSLVerifyCA, nil
	case string(SSLVerifyIdentity):
		return SSLVerifyIdentity, nil
	default:
		return "", clustererr.Parser("invalid ssl-mode %q", s)
	}
}

// extraOptionKeys is the pre-declared set of recognized driver-specific
// extra options (§4.6).
var extraOptionKeys = map[string]bool{
	"get-server-public-key":    true,
	"connect-timeout":          true,
	"net-read-timeout":         true,
	"net-write-timeout":        true,
	"compression":              true,
	"compression-algorithms":   true,
	"compression-level":        true,
	"authentication-mechanism": true,
	"connection-attributes":    true,
}

// Core holds the core connection options (§4.6).
type Core struct {
	Scheme   string
	User     string
	Password *string
	Host     string
	Port     int
	Socket   string
	Pipe     string
	Schema   string
}

// TransportType derives the transport from which endpoint field is set.
func (c Core) TransportType() TransportType {
	switch {
	case c.Socket != "":
		return TransportSocket
	case c.Pipe != "":
		return TransportPipe
	default:
		return TransportTCP
	}
}

// SSL holds the SSL options (§4.6) and enforces the cross-constraints.
type SSL struct {
	Mode            SSLMode
	CA              string
	CAPath          string
	Cert            string
	Key             string
	CRL             string
	CRLPath         string
	Cipher          string
	TLSVersion      string
	TLSCipherSuites string
}

// Validate enforces the §4.6 cross-constraints between Mode and the other
// SSL fields.
func (s SSL) Validate() error {
	if s.Mode == SSLDisabled {
		if s.CA != "" || s.CAPath != "" || s.Cert != "" || s.Key != "" ||
			s.CRL != "" || s.CRLPath != "" || s.Cipher != "" ||
			s.TLSVersion != "" || s.TLSCipherSuites != "" {
			return clustererr.Argument("ssl-mode=DISABLED forbids any other SSL option")
		}
	}
	if s.Mode != SSLVerifyCA && s.Mode != SSLVerifyIdentity {
		if s.CA != "" || s.CAPath != "" || s.CRL != "" || s.CRLPath != "" {
			return clustererr.Argument("ssl-mode %q forbids ca/capath/crl/crlpath", s.Mode)
		}
	}
	return nil
}

// ConnectionOptions is the full typed options bag: core, SSL, and a
// freeform extra-options map, plus the case-sensitivity mode chosen at
// construction that governs all key compares on Extra.
type ConnectionOptions struct {
	Core          Core
	SSL           SSL
	Extra         map[string]string
	CaseSensitive bool
}

// New returns an empty options bag with the given key-compare case mode.
func New(caseSensitive bool) *ConnectionOptions {
	return &ConnectionOptions{
		Extra:         make(map[string]string),
		CaseSensitive: caseSensitive,
	}
}

func (o *ConnectionOptions) normalizeKey(key string) string {
	if o.CaseSensitive {
		return key
	}
	return strings.ToLower(key)
}

// SetExtra validates key against the pre-declared extra-option set and
// stores it.
func (o *ConnectionOptions) SetExtra(key, value string) error {
	norm := o.normalizeKey(key)
	if !extraOptionKeys[strings.ToLower(key)] && !strings.HasPrefix(strings.ToLower(key), "authentication-") {
		return clustererr.Argument("unrecognized extra option %q", key)
	}
	if o.Extra == nil {
		o.Extra = make(map[string]string)
	}
	o.Extra[norm] = value
	return nil
}

// GetExtra looks up an extra option honoring the case-sensitivity mode.
func (o *ConnectionOptions) GetExtra(key string) (string, bool) {
	v, ok := o.Extra[o.normalizeKey(key)]
	return v, ok
}

// Override copies every non-zero value from src into the receiver (§4.6).
func (o *ConnectionOptions) Override(src *ConnectionOptions) {
	if src.Core.Scheme != "" {
		o.Core.Scheme = src.Core.Scheme
	}
	if src.Core.User != "" {
		o.Core.User = src.Core.User
	}
	if src.Core.Password != nil {
		o.Core.Password = src.Core.Password
	}
	if src.Core.Host != "" {
		o.Core.Host = src.Core.Host
	}
	if src.Core.Port != 0 {
		o.Core.Port = src.Core.Port
	}
	if src.Core.Socket != "" {
		o.Core.Socket = src.Core.Socket
	}
	if src.Core.Pipe != "" {
		o.Core.Pipe = src.Core.Pipe
	}
	if src.Core.Schema != "" {
		o.Core.Schema = src.Core.Schema
	}
	if src.SSL.Mode != "" {
		o.SSL = src.SSL
	}
	for k, v := range src.Extra {
		o.Extra[k] = v
	}
}

// LoginOverride copies only user/password/ssl from src into the receiver —
// the narrower override used when re-authenticating against an existing
// target descriptor without disturbing its transport.
func (o *ConnectionOptions) LoginOverride(src *ConnectionOptions) {
	if src.Core.User != "" {
		o.Core.User = src.Core.User
	}
	if src.Core.Password != nil {
		o.Core.Password = src.Core.Password
	}
	if src.SSL.Mode != "" {
		o.SSL = src.SSL
	}
}

// MaskToken names a URI component that RenderURI can blank out.
type MaskToken int

const (
	MaskNone MaskToken = iota
	MaskPassword
	MaskUser
	MaskHost
	MaskPort
	MaskPath
	MaskQuery
)

// RenderURI formats the options as a URI, masking any token in masked.
func (o *ConnectionOptions) RenderURI(masked ...MaskToken) string {
	mask := make(map[MaskToken]bool, len(masked))
	for _, m := range masked {
		mask[m] = true
	}

	var b strings.Builder
	scheme := o.Core.Scheme
	if scheme == "" {
		scheme = "mysql"
	}
	b.WriteString(scheme)
	b.WriteString("://")

	if !mask[MaskUser] && o.Core.User != "" {
		b.WriteString(percentEncode(o.Core.User))
		if o.Core.Password != nil && !mask[MaskPassword] {
			b.WriteString(":")
			b.WriteString(percentEncode(*o.Core.Password))
		}
		b.WriteString("@")
	}

	if !mask[MaskHost] {
		switch o.Core.TransportType() {
		case TransportSocket:
			b.WriteString("(" + o.Core.Socket + ")")
		case TransportPipe:
			b.WriteString("(" + o.Core.Pipe + ")")
		default:
			host := o.Core.Host
			if strings.Contains(host, ":") {
				host = "[" + host + "]"
			}
			b.WriteString(host)
			if o.Core.Port != 0 && !mask[MaskPort] {
				b.WriteString(":" + strconv.Itoa(o.Core.Port))
			}
		}
	}

	if !mask[MaskPath] && o.Core.Schema != "" {
		b.WriteString("/" + o.Core.Schema)
	}

	if !mask[MaskQuery] {
		var q []string
		if o.SSL.Mode != "" {
			q = append(q, "ssl-mode="+string(o.SSL.Mode))
		}
		for _, k := range sortedKeys(o.Extra) {
			q = append(q, k+"="+percentEncode(o.Extra[k]))
		}
		if len(q) > 0 {
			b.WriteString("?" + strings.Join(q, "&"))
		}
	}

	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
