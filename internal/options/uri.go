package options

import (
	"strconv"
	"strings"

	"github.com/clusterctl/core/internal/clustererr"
)

var validSchemes = map[string]bool{
	"mysql": true, "mysqlx": true, "file": true, "ssh": true,
}

// ParseURI parses a URI of the form scheme://[userinfo@]target[/schema][?query]
// per §4.6.1's grammar: bare host[:port], bracketed IPv6 with an optional
// zone-id, unix-socket paths, and Windows named pipes.
func ParseURI(raw string) (*ConnectionOptions, error) {
	o := New(false)

	schemeIdx := strings.Index(raw, "://")
	if schemeIdx < 0 {
		return nil, clustererr.Parser("missing scheme in URI %q", raw)
	}
	scheme := raw[:schemeIdx]
	if !validSchemes[scheme] {
		return nil, clustererr.Parser("unsupported scheme %q", scheme)
	}
	o.Core.Scheme = scheme
	rest := raw[schemeIdx+3:]

	// Split off query.
	var query string
	if i := strings.Index(rest, "?"); i >= 0 {
		query, rest = rest[i+1:], rest[:i]
	}

	// Split off userinfo.
	target := rest
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		userinfo := rest[:i]
		target = rest[i+1:]
		if err := parseUserinfo(userinfo, o); err != nil {
			return nil, err
		}
	}

	// Split off schema path, being careful of socket/pipe forms that embed '/'.
	targetStr, schema, err := splitSchema(target)
	if err != nil {
		return nil, err
	}
	if schema != "" {
		dec, err := percentDecode(schema)
		if err != nil {
			return nil, err
		}
		o.Core.Schema = dec
	}

	if err := parseTarget(targetStr, scheme, o); err != nil {
		return nil, err
	}

	if query != "" {
		if err := parseQuery(query, o); err != nil {
			return nil, err
		}
	}

	return o, nil
}

func parseUserinfo(userinfo string, o *ConnectionOptions) error {
	user := userinfo
	var password *string
	if i := strings.Index(userinfo, ":"); i >= 0 {
		user = userinfo[:i]
		pw, err := percentDecode(userinfo[i+1:])
		if err != nil {
			return err
		}
		password = &pw
	}
	dec, err := percentDecode(user)
	if err != nil {
		return err
	}
	o.Core.User = dec
	o.Core.Password = password
	return nil
}

// splitSchema finds the /schema suffix without breaking socket-path or
// named-pipe targets, which may themselves contain '/'.
func splitSchema(target string) (remainder, schema string, err error) {
	// Parenthesized socket/pipe forms carry their own delimiters; schema
	// follows the closing paren.
	if strings.HasPrefix(target, "(") {
		i := strings.Index(target, ")")
		if i < 0 {
			return "", "", clustererr.Parser("unterminated ( in target %q", target)
		}
		rest := target[i+1:]
		if strings.HasPrefix(rest, "/") {
			return target[:i+1], rest[1:], nil
		}
		return target, "", nil
	}
	// Bare unix-socket path or named pipe: no unambiguous schema suffix,
	// the whole remainder is the target.
	if strings.HasPrefix(target, "/") || strings.HasPrefix(target, `\\.\`) {
		return target, "", nil
	}
	// host[:port][/schema] — bracketed IPv6 may contain ':'; find the
	// schema slash after any closing bracket.
	if strings.HasPrefix(target, "[") {
		i := strings.Index(target, "]")
		if i < 0 {
			return "", "", clustererr.Parser("unterminated [ in target %q", target)
		}
		rest := target[i+1:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return target[:i+1] + rest[:j], rest[j+1:], nil
		}
		return target, "", nil
	}
	if i := strings.Index(target, "/"); i >= 0 {
		return target[:i], target[i+1:], nil
	}
	return target, "", nil
}

func parseTarget(target, scheme string, o *ConnectionOptions) error {
	switch {
	case strings.HasPrefix(target, "(/") || strings.HasPrefix(target, "/"):
		if scheme == "mysqlx" {
			return clustererr.Parser("socket targets are forbidden with scheme mysqlx")
		}
		o.Core.Socket = strings.TrimSuffix(strings.TrimPrefix(target, "("), ")")
		return nil
	case strings.HasPrefix(target, `(\\.\`) || strings.HasPrefix(target, `\\.\`):
		if scheme == "mysqlx" {
			return clustererr.Parser("named-pipe targets are forbidden with scheme mysqlx")
		}
		o.Core.Pipe = strings.TrimSuffix(strings.TrimPrefix(target, "("), ")")
		return nil
	case strings.HasPrefix(target, "["):
		i := strings.Index(target, "]")
		if i < 0 {
			return clustererr.Parser("unterminated [ in target %q", target)
		}
		host := target[1:i]
		if zi := strings.Index(host, "%25"); zi >= 0 {
			// zone-id retained verbatim as part of the literal
			host = host[:zi] + "%" + host[zi+3:]
		}
		o.Core.Host = host
		rest := target[i+1:]
		if strings.HasPrefix(rest, ":") {
			port, err := parsePort(rest[1:])
			if err != nil {
				return err
			}
			o.Core.Port = port
		}
		return nil
	default:
		host, portStr, hasPort := cutLast(target, ":")
		if hasPort {
			port, err := parsePort(portStr)
			if err != nil {
				return err
			}
			o.Core.Port = port
			o.Core.Host = host
		} else {
			o.Core.Host = target
		}
		return validateHost(o.Core.Host)
	}
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return 0, clustererr.Parser("port out of range 0..65535: %q", s)
	}
	return p, nil
}

func validateHost(host string) error {
	if host == "" {
		return clustererr.Parser("empty host in target")
	}
	// IPv4 dotted quad: if it looks like one, every octet must be 0-255.
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		allDigits := true
		for _, p := range parts {
			for _, c := range p {
				if c < '0' || c > '9' {
					allDigits = false
				}
			}
		}
		if allDigits {
			for _, p := range parts {
				n, err := strconv.Atoi(p)
				if err != nil || n < 0 || n > 255 {
					return clustererr.Parser("invalid IPv4 octet in host %q", host)
				}
			}
		}
	}
	return nil
}

func parseQuery(query string, o *ConnectionOptions) error {
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key := pair
		var value string
		hasValue := false
		if i := strings.Index(pair, "="); i >= 0 {
			key, value = pair[:i], pair[i+1:]
			hasValue = true
		}
		decKey, err := percentDecode(key)
		if err != nil {
			return err
		}
		var decValue string
		if hasValue {
			decValue, err = percentDecode(value)
			if err != nil {
				return err
			}
		}

		switch strings.ToLower(decKey) {
		case "ssl-mode":
			mode, err := parseSSLMode(decValue)
			if err != nil {
				return err
			}
			o.SSL.Mode = mode
		case "ssl-ca":
			o.SSL.CA = decValue
		case "ssl-capath":
			o.SSL.CAPath = decValue
		case "ssl-cert":
			o.SSL.Cert = decValue
		case "ssl-key":
			o.SSL.Key = decValue
		case "ssl-crl":
			o.SSL.CRL = decValue
		case "ssl-crlpath":
			o.SSL.CRLPath = decValue
		case "connection-attributes":
			if !hasValue {
				o.Extra["connection-attributes"] = "true"
				continue
			}
			if err := validateBoolOrList(decValue); err != nil {
				return err
			}
			o.Extra["connection-attributes"] = decValue
		default:
			if hasValue {
				if err := o.SetExtra(decKey, decValue); err != nil {
					return err
				}
			} else {
				if err := o.SetExtra(decKey, "true"); err != nil {
					return err
				}
			}
		}
	}
	if err := o.SSL.Validate(); err != nil {
		return err
	}
	return nil
}

func validateBoolOrList(value string) error {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		return nil
	}
	switch strings.ToLower(value) {
	case "true", "false", "0", "1":
		return nil
	}
	return clustererr.Parser("connection-attributes bare value must be true|false|0|1, got %q", value)
}

// percentDecode decodes %xx sequences where xx is exactly two hex digits;
// any other '%' is rejected.
func percentDecode(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", clustererr.Parser("truncated percent-escape in %q", s)
		}
		hi, ok1 := hexVal(s[i+1])
		lo, ok2 := hexVal(s[i+2])
		if !ok1 || !ok2 {
			return "", clustererr.Parser("invalid percent-escape %q", s[i:i+3])
		}
		b.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return b.String(), nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

const hexDigits = "0123456789ABCDEF"

func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
