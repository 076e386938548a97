package mail

import (
	"reflect"
	"testing"
)

func TestExtractLinksFromHTML(t *testing.T) {
	t.Parallel()

	body := `
	<html><body>
	  <a href="https://example.com/article-1">Read the first article</a>
	  <a href="https://example.com/article-2?utm_source=mail">Second</a>
	  <a href="https://example.com/unsubscribe?u=123">Unsubscribe</a>
	  <a href="mailto:editor@example.com">Write us</a>
	  <a href="https://twitter.com/example">Follow</a>
	  <a href="https://example.com/email-settings">Preferences</a>
	  <a href="https://example.com/article-1">Read it again</a>
	</body></html>`

	got := ExtractLinks(body)
	want := []string{
		"https://example.com/article-1",
		"https://example.com/article-2?utm_source=mail",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractLinks = %v, want %v", got, want)
	}
}

func TestExtractLinksFromPlainText(t *testing.T) {
	t.Parallel()

	body := "Today's pick: https://example.com/deep-dive. Also https://example.com/short read.\n" +
		"Manage your subscription: https://example.com/manage-subscription"

	got := ExtractLinks(body)
	want := []string{
		"https://example.com/deep-dive",
		"https://example.com/short",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractLinks = %v, want %v", got, want)
	}
}

func TestExtractLinksEmptyBody(t *testing.T) {
	t.Parallel()

	if got := ExtractLinks(""); got != nil {
		t.Fatalf("expected no links, got %v", got)
	}
}

func TestWantLink(t *testing.T) {
	t.Parallel()

	cases := []struct {
		link string
		want bool
	}{
		{"https://example.com/article", true},
		{"http://example.com/article", true},
		{"ftp://example.com/file", false},
		{"https://example.com/opt-out", false},
		{"https://fonts.googleapis.com/css", false},
		{"https://www.linkedin.com/company/x", false},
	}
	for _, tc := range cases {
		if got := wantLink(tc.link); got != tc.want {
			t.Fatalf("wantLink(%q) = %v, want %v", tc.link, got, tc.want)
		}
	}
}
