package origin

import (
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		wantHost string
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com"},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173"},
		{"http://example.com:80", "http://example.com", "example.com"},
		{"https://example.com:8443", "https://example.com:8443", "example.com:8443"},
		{"http://[::1]:3000", "http://[::1]:3000", "[::1]:3000"},
		{" null ", "null", ""},
	}
	for _, tc := range cases {
		got, host, ok := NormalizeHeader(tc.in)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) ok=false", tc.in)
		}
		if got != tc.want || host != tc.wantHost {
			t.Fatalf("NormalizeHeader(%q)=(%q, %q), want (%q, %q)", tc.in, got, host, tc.want, tc.wantHost)
		}
	}
}

func TestNormalizeHeader_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com/?q=1",
		"https://example.com?",
		"https://user@example.com",
		"https://example.com/#frag",
		"https://example.com:0",
		"https://example.com:70000",
		"http://::1",
		"http://[::1",
		"example.com",
	} {
		if got, _, ok := NormalizeHeader(in); ok {
			t.Fatalf("NormalizeHeader(%q)=%q, want rejection", in, got)
		}
	}
}

func TestPolicy_SameHostByDefault(t *testing.T) {
	p := NewPolicy(nil)

	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "matchmaker.example", true},
		{"https://matchmaker.example", "matchmaker.example", true},
		{"https://matchmaker.example", "matchmaker.example:443", true},
		{"http://localhost:8080", "localhost:8080", true},
		{"http://localhost:8081", "localhost:8080", false},
		{"https://evil.example", "matchmaker.example", false},
		{"null", "matchmaker.example", false},
		{"not an origin", "matchmaker.example", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/signal", nil)
		r.Host = tc.host
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if _, ok := p.Check(r); ok != tc.want {
			t.Fatalf("Check(origin=%q host=%q)=%v, want %v", tc.origin, tc.host, ok, tc.want)
		}
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p := NewPolicy([]string{"HTTPS://App.Example:443", "http://localhost:5173"})
	if p.AllowsAny() {
		t.Fatalf("AllowsAny=true, want false")
	}

	r := httptest.NewRequest("GET", "/signal", nil)
	r.Host = "matchmaker.example"

	r.Header.Set("Origin", "https://app.example")
	if got, ok := p.Check(r); !ok || got != "https://app.example" {
		t.Fatalf("Check=(%q, %v), want (https://app.example, true)", got, ok)
	}

	// Same host is not implied once an allow-list is configured.
	r.Header.Set("Origin", "https://matchmaker.example")
	if _, ok := p.Check(r); ok {
		t.Fatalf("expected same-host origin to be rejected by explicit allow-list")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p := NewPolicy([]string{"*"})
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny=false, want true")
	}
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "https://anything.example")
	if _, ok := p.Check(r); !ok {
		t.Fatalf("wildcard policy rejected an origin")
	}
}
