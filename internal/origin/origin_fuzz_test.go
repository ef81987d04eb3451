package origin

import "testing"

func FuzzNormalizeHeader(f *testing.F) {
	f.Add("HTTPS://Example.COM:443")
	f.Add("http://[::FFFF:192.0.2.1]")
	f.Add("null")
	f.Add("")
	f.Add("https://example.com,https://evil.example.com")

	f.Fuzz(func(t *testing.T, originHeader string) {
		normalized, host, ok := NormalizeHeader(originHeader)
		if !ok || normalized == "null" {
			return
		}
		again, againHost, ok := NormalizeHeader(normalized)
		if !ok || again != normalized || againHost != host {
			t.Fatalf("normalization not idempotent: %q -> %q -> %q (ok=%v)", originHeader, normalized, again, ok)
		}
	})
}
