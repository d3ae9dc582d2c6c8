package authority

import "testing"

func TestParse(t *testing.T) {
	a, err := Parse("example.test:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Host != "example.test" || a.Port != 443 {
		t.Fatalf("unexpected authority: %+v", a)
	}
}

func TestParseRejectsMissingPort(t *testing.T) {
	if _, err := Parse("example.test"); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestParseAbsoluteURI(t *testing.T) {
	a, err := ParseAbsoluteURI("http://127.0.0.1:5173/hello?x=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Host != "127.0.0.1" || a.Port != 5173 {
		t.Fatalf("unexpected authority: %+v", a)
	}
}

func TestParseAbsoluteURINoPort(t *testing.T) {
	if _, err := ParseAbsoluteURI("http://localhost/x"); err == nil {
		t.Fatal("expected error when no port is present")
	}
}

func TestStripSchemeFixedPoint(t *testing.T) {
	cases := []string{
		"http://127.0.0.1",
		"HTTPS://Example.test",
		"127.0.0.1",
		"",
	}
	for _, c := range cases {
		once := StripScheme(c)
		twice := StripScheme(once)
		if once != twice {
			t.Fatalf("StripScheme not a fixed point for %q: %q != %q", c, once, twice)
		}
	}
}

func TestStripSchemeCaseInsensitive(t *testing.T) {
	for _, prefix := range []string{"http://", "HTTP://", "HtTp://", "https://", "HTTPS://"} {
		got := StripScheme(prefix + "host")
		if got != "host" {
			t.Fatalf("StripScheme(%q) = %q, want %q", prefix+"host", got, "host")
		}
	}
}
