// Package streamconfig implements the immutable StreamConfiguration value
// (C1): parsing and validating a stream URL into {scheme, host, port,
// streamName, useSSL, token}. It is grounded on the teacher's
// client.New(rawurl) path-splitting approach, generalized from RTMP's
// fixed "/app/stream" shape to CLSP's single streamName segment and
// widened to a four-scheme, TLS-aware URL family.
package streamconfig

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	clsperrors "github.com/clspio/clsp-go/internal/errors"
)

// Scheme identifies one of the four recognized CLSP URL schemes.
type Scheme string

const (
	SchemeCLSP      Scheme = "clsp"
	SchemeCLSPS     Scheme = "clsps"
	SchemeCLSPMQTT  Scheme = "clsp-mqtt"
	SchemeCLSPSMQTT Scheme = "clsps-mqtt"
)

func (s Scheme) tls() bool {
	return s == SchemeCLSPS || s == SchemeCLSPSMQTT
}

func (s Scheme) valid() bool {
	switch s {
	case SchemeCLSP, SchemeCLSPS, SchemeCLSPMQTT, SchemeCLSPSMQTT:
		return true
	default:
		return false
	}
}

const (
	defaultTLSPort   = 443
	defaultPlainPort = 80
)

// TokenInfo holds the optional bearer token carried in a stream URL's
// "token" query parameter. The token is never verified and never gates
// playback — Claims is populated on a best-effort basis purely so the
// session can log/meter expiry; a malformed or non-JWT token is kept as
// Raw with Parsed left false.
type TokenInfo struct {
	Raw     string
	Parsed  bool
	Subject string
	Expiry  time.Time
}

// StreamConfiguration is an immutable, validated stream target. Values are
// created only via FromURL; there are no setters.
type StreamConfiguration struct {
	scheme     Scheme
	host       string
	port       int
	streamName string
	token      *TokenInfo
}

// FromURL parses and validates rawURL into a StreamConfiguration. It fails
// with InvalidUrl when the scheme is not one of the four recognized CLSP
// schemes, or when host or streamName are empty; it fails with MissingUrl
// when rawURL is empty.
func FromURL(rawURL string) (*StreamConfiguration, error) {
	const op = "streamconfig.FromURL"

	if strings.TrimSpace(rawURL) == "" {
		return nil, clsperrors.NewMissingURL(op)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, clsperrors.NewInvalidURL(op, err)
	}

	scheme := Scheme(strings.ToLower(u.Scheme))
	if !scheme.valid() {
		return nil, clsperrors.NewInvalidURL(op, nil)
	}

	host := u.Hostname()
	if host == "" {
		return nil, clsperrors.NewInvalidURL(op, nil)
	}

	streamName := firstNonEmptySegment(u.Path)
	if streamName == "" {
		return nil, clsperrors.NewInvalidURL(op, nil)
	}

	port := defaultPlainPort
	if scheme.tls() {
		port = defaultTLSPort
	}
	if p := u.Port(); p != "" {
		parsed, convErr := strconv.Atoi(p)
		if convErr != nil || parsed <= 0 {
			return nil, clsperrors.NewInvalidURL(op, convErr)
		}
		port = parsed
	}

	cfg := &StreamConfiguration{
		scheme:     scheme,
		host:       host,
		port:       port,
		streamName: streamName,
	}

	if raw := u.Query().Get("token"); raw != "" {
		cfg.token = parseToken(raw)
	}

	return cfg, nil
}

func firstNonEmptySegment(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}

// parseToken attempts an unverified JWT parse purely to surface exp/sub for
// logging. Any failure — wrong shape, bad base64, non-JWT opaque string —
// leaves Parsed false; the raw token is always preserved.
func parseToken(raw string) *TokenInfo {
	info := &TokenInfo{Raw: raw}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return info
	}

	info.Parsed = true
	if sub, ok := claims["sub"].(string); ok {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.Expiry = exp.Time
	}
	return info
}

// IsStreamConfiguration reports whether x is a *StreamConfiguration,
// mirroring the source's duck-typed isStreamConfiguration check.
func IsStreamConfiguration(x any) bool {
	_, ok := x.(*StreamConfiguration)
	return ok
}

func (c *StreamConfiguration) Scheme() Scheme     { return c.scheme }
func (c *StreamConfiguration) Host() string       { return c.host }
func (c *StreamConfiguration) Port() int          { return c.port }
func (c *StreamConfiguration) StreamName() string { return c.streamName }
func (c *StreamConfiguration) UseSSL() bool       { return c.scheme.tls() }
func (c *StreamConfiguration) Token() *TokenInfo  { return c.token }

// Equal reports whether c and other describe the same target. It is also
// recognized by go-cmp's Equal-method convention, so cmp.Diff on values
// containing a *StreamConfiguration compares by this method rather than
// by unexported fields.
func (c *StreamConfiguration) Equal(other *StreamConfiguration) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.scheme != other.scheme || c.host != other.host || c.port != other.port || c.streamName != other.streamName {
		return false
	}
	switch {
	case c.token == nil && other.token == nil:
		return true
	case c.token == nil || other.token == nil:
		return false
	default:
		return c.token.Raw == other.token.Raw
	}
}

// ToURL renders the canonical URL for this configuration. A port equal to
// the scheme's default is omitted, matching the non-explicit form most
// callers construct by hand, so that FromURL(s).ToURL() round-trips for
// any canonicalized s that already omits a default port.
func (c *StreamConfiguration) ToURL() string {
	host := c.host
	if !isDefaultPort(c.scheme, c.port) {
		host = host + ":" + strconv.Itoa(c.port)
	}
	u := url.URL{
		Scheme: string(c.scheme),
		Host:   host,
		Path:   "/" + c.streamName,
	}
	if c.token != nil {
		q := url.Values{}
		q.Set("token", c.token.Raw)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func isDefaultPort(s Scheme, port int) bool {
	if s.tls() {
		return port == defaultTLSPort
	}
	return port == defaultPlainPort
}
