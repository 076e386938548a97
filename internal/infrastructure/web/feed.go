package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

// SourceType selects how a configured site is scraped.
type SourceType string

const (
	SourceRSS  SourceType = "rss"
	SourceHTML SourceType = "html"
)

// Source is one configured site to poll for new content.
type Source struct {
	Name     string
	URL      string
	Type     SourceType
	Selector string // CSS selector for links; html sources only
}

// Collector polls configured RSS feeds and HTML pages for candidate URLs.
// A single unreachable site is logged and skipped; the collector fails only
// when every site failed.
type Collector struct {
	sources    []Source
	httpClient *http.Client
	feedParser *gofeed.Parser
	logger     *slog.Logger
	now        func() time.Time
}

var _ ports.Collector = (*Collector)(nil)

// NewCollector creates a web collector over the given sources.
func NewCollector(sources []Source, logger *slog.Logger) *Collector {
	client := &http.Client{Timeout: 30 * time.Second}
	parser := gofeed.NewParser()
	parser.Client = client
	return &Collector{
		sources:    sources,
		httpClient: client,
		feedParser: parser,
		logger:     logger,
		now:        time.Now,
	}
}

func (c *Collector) Name() string { return "web" }

// FetchCandidates polls every configured source. For RSS feeds only the
// newest entry is taken; older entries were either seen on a previous run or
// are too stale to narrate.
func (c *Collector) FetchCandidates(ctx context.Context) ([]domain.CollectedItem, error) {
	if len(c.sources) == 0 {
		return nil, nil
	}

	var items []domain.CollectedItem
	failures := 0
	for _, src := range c.sources {
		fetched, err := c.fetchSource(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}
			failures++
			c.logger.Warn("site fetch failed", "source", src.Name, "url", src.URL, "error", err)
			continue
		}
		items = append(items, fetched...)
	}

	if failures == len(c.sources) {
		return nil, domain.NewStageError(domain.KindSiteUnreachable, "",
			errors.New("all configured sites were unreachable"))
	}
	return items, nil
}

func (c *Collector) fetchSource(ctx context.Context, src Source) ([]domain.CollectedItem, error) {
	switch src.Type {
	case SourceRSS:
		return c.fetchFeed(ctx, src)
	case SourceHTML:
		return c.fetchPage(ctx, src)
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

func (c *Collector) fetchFeed(ctx context.Context, src Source) ([]domain.CollectedItem, error) {
	feed, err := c.feedParser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if len(feed.Items) == 0 {
		return nil, nil
	}

	newest := feed.Items[0]
	title := strings.TrimSpace(newest.Title)
	if title == "" {
		title = feed.Title
	}
	return []domain.CollectedItem{{
		URL:         newest.Link,
		Title:       title,
		Origin:      domain.OriginWeb,
		SourceName:  src.Name,
		CollectedAt: c.now(),
	}}, nil
}

func (c *Collector) fetchPage(ctx context.Context, src Source) ([]domain.CollectedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}

	// Like the feed path, only the first (newest) matching element is taken;
	// everything below it was already seen on a previous run.
	var items []domain.CollectedItem
	doc.Find(src.Selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		link := base.ResolveReference(ref).String()

		title := strings.TrimSpace(sel.Text())
		if title == "" {
			title = link
		}
		items = append(items, domain.CollectedItem{
			URL:         link,
			Title:       title,
			Origin:      domain.OriginWeb,
			SourceName:  src.Name,
			CollectedAt: c.now(),
		})
		return false
	})
	return items, nil
}
