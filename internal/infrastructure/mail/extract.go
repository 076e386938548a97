package mail

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Hosts that appear in newsletter markup but never point at articles.
var excludedDomains = map[string]struct{}{
	"fonts.googleapis.com":   {},
	"fonts.gstatic.com":      {},
	"www.w3.org":             {},
	"schemas.microsoft.com":  {},
	"cdn-images.mailchimp":   {},
	"list-manage.com":        {},
	"twitter.com":            {},
	"x.com":                  {},
	"facebook.com":           {},
	"www.facebook.com":       {},
	"linkedin.com":           {},
	"www.linkedin.com":       {},
	"instagram.com":          {},
	"www.instagram.com":      {},
	"youtube.com/channel":    {},
	"play.google.com":        {},
	"apps.apple.com":         {},
	"support.google.com":     {},
	"accounts.google.com":    {},
	"mail.google.com":        {},
	"www.google.com/gmail":   {},
	"gravatar.com":           {},
	"secure.gravatar.com":    {},
	"substackcdn.com":        {},
	"cdn.substack.com":       {},
	"email.mg.substack.com":  {},
	"open.substack.com/feed": {},
}

// Link path fragments that mark housekeeping links rather than content.
var skipWords = []string{
	"unsubscribe",
	"mailto:",
	"manage",
	"preferences",
	"opt-out",
	"opt_out",
	"privacy",
	"terms",
	"email-settings",
	"subscription",
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>\)\]]+`)

// ExtractLinks pulls candidate article URLs out of a newsletter body. HTML
// anchors are read first; a plain-text scan catches bodies without markup.
// Order is preserved and duplicates dropped.
func ExtractLinks(body string) []string {
	var links []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		link := strings.TrimRight(strings.TrimSpace(raw), ".,;")
		if link == "" || !wantLink(link) {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(body)); err == nil {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			add(href)
		})
	}

	if len(links) == 0 {
		for _, match := range urlPattern.FindAllString(body, -1) {
			add(match)
		}
	}
	return links
}

func wantLink(link string) bool {
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return false
	}
	lower := strings.ToLower(link)
	for _, word := range skipWords {
		if strings.Contains(lower, word) {
			return false
		}
	}
	for domain := range excludedDomains {
		if strings.Contains(lower, domain) {
			return false
		}
	}
	return true
}
