package domain

import (
	"errors"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trims whitespace", "  https://example.com/post  ", "https://example.com/post"},
		{"lowercases scheme and host", "HTTPS://Example.COM/Post", "https://example.com/Post"},
		{"drops fragment", "https://example.com/post#section-2", "https://example.com/post"},
		{"strips utm params", "https://example.com/post?utm_source=mail&utm_medium=email", "https://example.com/post"},
		{"strips fbclid", "https://example.com/post?fbclid=abc123", "https://example.com/post"},
		{"keeps content params", "https://example.com/post?id=42&utm_campaign=x", "https://example.com/post?id=42"},
		{"trims trailing slash", "https://example.com/post/", "https://example.com/post"},
		{"keeps root slash", "https://example.com/", "https://example.com/"},
		{"unparseable returned trimmed", " not a url ", "not a url"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CanonicalURL(tc.in); got != tc.want {
				t.Fatalf("CanonicalURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestFingerprintCollapsesEquivalentURLs(t *testing.T) {
	t.Parallel()

	base := Fingerprint("https://example.com/post")
	variants := []string{
		"https://example.com/post?utm_source=newsletter",
		"https://EXAMPLE.com/post#intro",
		"https://example.com/post/",
		"  https://example.com/post  ",
	}
	for _, v := range variants {
		if got := Fingerprint(v); got != base {
			t.Fatalf("Fingerprint(%q) = %s, want %s", v, got, base)
		}
	}

	if Fingerprint("https://example.com/other") == base {
		t.Fatal("distinct URLs must not share a fingerprint")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	err := NewStageError(KindAutomationTimeout, "ws-1", errors.New("deadline"))
	if got := KindOf(err); got != KindAutomationTimeout {
		t.Fatalf("KindOf = %s, want %s", got, KindAutomationTimeout)
	}
	if got := WorkspaceOf(err); got != "ws-1" {
		t.Fatalf("WorkspaceOf = %s, want ws-1", got)
	}

	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Fatalf("KindOf(plain) = %s, want %s", got, KindUnknown)
	}
	if got := KindOf(ErrConflict); got != KindConflict {
		t.Fatalf("KindOf(ErrConflict) = %s, want %s", got, KindConflict)
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	for _, s := range []Status{StatusDelivered, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}
