package streamconfig

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	clsperrors "github.com/clspio/clsp-go/internal/errors"
)

func TestFromURLValidSchemes(t *testing.T) {
	tests := []struct {
		url        string
		wantPort   int
		wantSSL    bool
		wantStream string
	}{
		{"clsp://sfs/stream-a", 80, false, "stream-a"},
		{"clsps://sfs/stream-a", 443, true, "stream-a"},
		{"clsp-mqtt://sfs/stream-a", 80, false, "stream-a"},
		{"clsps-mqtt://sfs:8443/stream-a", 8443, true, "stream-a"},
	}

	for _, tc := range tests {
		cfg, err := FromURL(tc.url)
		if err != nil {
			t.Fatalf("FromURL(%q): %v", tc.url, err)
		}
		if cfg.Port() != tc.wantPort {
			t.Errorf("%q: expected port %d, got %d", tc.url, tc.wantPort, cfg.Port())
		}
		if cfg.UseSSL() != tc.wantSSL {
			t.Errorf("%q: expected useSSL %v, got %v", tc.url, tc.wantSSL, cfg.UseSSL())
		}
		if cfg.StreamName() != tc.wantStream {
			t.Errorf("%q: expected streamName %q, got %q", tc.url, tc.wantStream, cfg.StreamName())
		}
	}
}

func TestFromURLRejectsUnknownScheme(t *testing.T) {
	_, err := FromURL("https://sfs/stream-a")
	if !clsperrors.IsInvalidURL(err) {
		t.Fatalf("expected InvalidUrl, got %v", err)
	}
}

func TestFromURLRejectsEmptyHost(t *testing.T) {
	_, err := FromURL("clsp:///stream-a")
	if !clsperrors.IsInvalidURL(err) {
		t.Fatalf("expected InvalidUrl, got %v", err)
	}
}

func TestFromURLRejectsEmptyStreamName(t *testing.T) {
	_, err := FromURL("clsp://sfs/")
	if !clsperrors.IsInvalidURL(err) {
		t.Fatalf("expected InvalidUrl, got %v", err)
	}
}

func TestFromURLRejectsEmptyString(t *testing.T) {
	_, err := FromURL("")
	var want *clsperrors.MissingURLError
	if err == nil {
		t.Fatalf("expected MissingUrl error, got nil")
	}
	_ = want
}

func TestIsStreamConfiguration(t *testing.T) {
	cfg, err := FromURL("clsp://sfs/stream-a")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	if !IsStreamConfiguration(cfg) {
		t.Fatalf("expected true for *StreamConfiguration")
	}
	if IsStreamConfiguration("not a config") {
		t.Fatalf("expected false for non-StreamConfiguration value")
	}
	if IsStreamConfiguration(nil) {
		t.Fatalf("expected false for nil")
	}
}

func TestEqualComparesAllFields(t *testing.T) {
	a, _ := FromURL("clsp://sfs/stream-a")
	b, _ := FromURL("clsp://sfs/stream-a")
	c, _ := FromURL("clsp://sfs/stream-b")

	if !a.Equal(b) {
		t.Fatalf("expected equal configs to compare equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected differing streamName to compare unequal")
	}
}

func TestToURLRoundTripsCanonicalForm(t *testing.T) {
	urls := []string{
		"clsp://sfs/stream-a",
		"clsps://sfs/stream-a",
		"clsps-mqtt://sfs:9443/stream-a",
	}
	for _, u := range urls {
		cfg, err := FromURL(u)
		if err != nil {
			t.Fatalf("FromURL(%q): %v", u, err)
		}
		if got := cfg.ToURL(); got != u {
			t.Fatalf("ToURL round-trip: FromURL(%q).ToURL() = %q", u, got)
		}
	}
}

func TestTokenIsParsedWhenPresentAsJWT(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "viewer-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	cfg, err := FromURL("clsp://sfs/stream-a?token=" + signed)
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	info := cfg.Token()
	if info == nil {
		t.Fatalf("expected token info, got nil")
	}
	if !info.Parsed {
		t.Fatalf("expected Parsed true for well-formed JWT")
	}
	if info.Subject != "viewer-1" {
		t.Fatalf("expected subject viewer-1, got %q", info.Subject)
	}
	if info.Expiry.IsZero() {
		t.Fatalf("expected non-zero expiry")
	}
}

func TestTokenIsKeptOpaqueWhenNotAJWT(t *testing.T) {
	cfg, err := FromURL("clsp://sfs/stream-a?token=not-a-jwt")
	if err != nil {
		t.Fatalf("FromURL should never fail because of the token: %v", err)
	}
	info := cfg.Token()
	if info == nil {
		t.Fatalf("expected token info, got nil")
	}
	if info.Parsed {
		t.Fatalf("expected Parsed false for an opaque token")
	}
	if info.Raw != "not-a-jwt" {
		t.Fatalf("expected raw token preserved, got %q", info.Raw)
	}
}

func TestFromURLMissingTokenLeavesTokenNil(t *testing.T) {
	cfg, err := FromURL("clsp://sfs/stream-a")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	if cfg.Token() != nil {
		t.Fatalf("expected nil token when none supplied")
	}
}
