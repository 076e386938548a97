package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

// Collector pulls unread newsletters from a Gmail inbox and extracts the
// article links they contain. Each extracted link remembers its originating
// message so the message can be marked read once the audio is delivered.
type Collector struct {
	service    *gmail.Service
	senders    []string
	maxResults int64
	logger     *slog.Logger
	now        func() time.Time
}

var (
	_ ports.Collector  = (*Collector)(nil)
	_ ports.MailReader = (*Collector)(nil)
)

// NewCollector builds a Gmail-backed collector from an OAuth client secret
// file and a previously obtained token file. Only messages from the allowed
// senders are considered.
func NewCollector(ctx context.Context, credentialsPath, tokenPath string, senders []string, maxResults int64, logger *slog.Logger) (*Collector, error) {
	creds, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(creds, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	token, err := readToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	client := oauthCfg.Client(ctx, token)
	service, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	if maxResults <= 0 {
		maxResults = 10
	}
	return newCollector(service, senders, maxResults, logger), nil
}

func newCollector(service *gmail.Service, senders []string, maxResults int64, logger *slog.Logger) *Collector {
	return &Collector{
		service:    service,
		senders:    senders,
		maxResults: maxResults,
		logger:     logger,
		now:        time.Now,
	}
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

func (c *Collector) Name() string { return "mail" }

// FetchCandidates lists unread messages from each allowed sender and
// extracts article links from their bodies.
func (c *Collector) FetchCandidates(ctx context.Context) ([]domain.CollectedItem, error) {
	var items []domain.CollectedItem
	for _, sender := range c.senders {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		query := fmt.Sprintf("from:%s is:unread", sender)
		list, err := c.service.Users.Messages.List("me").Q(query).MaxResults(c.maxResults).Context(ctx).Do()
		if err != nil {
			return items, classifyGmailError(fmt.Errorf("list messages from %s: %w", sender, err))
		}

		for _, ref := range list.Messages {
			extracted, err := c.itemsFromMessage(ctx, ref.Id, sender)
			if err != nil {
				return items, err
			}
			items = append(items, extracted...)
		}
	}
	return items, nil
}

func (c *Collector) itemsFromMessage(ctx context.Context, messageID, sender string) ([]domain.CollectedItem, error) {
	msg, err := c.service.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classifyGmailError(fmt.Errorf("get message %s: %w", messageID, err))
	}

	subject := headerValue(msg.Payload, "Subject")
	body := messageBody(msg.Payload)
	links := ExtractLinks(body)
	if len(links) == 0 {
		c.logger.Debug("no links in message", "message_id", messageID, "sender", sender)
		return nil, nil
	}

	collectedAt := c.now()
	items := make([]domain.CollectedItem, 0, len(links))
	for _, link := range links {
		items = append(items, domain.CollectedItem{
			URL:         link,
			Title:       subject,
			Origin:      domain.OriginMail,
			SourceName:  sender,
			CollectedAt: collectedAt,
			Meta:        map[string]string{domain.MetaMessageID: messageID},
		})
	}
	return items, nil
}

// MarkRead removes the UNREAD label from the originating message.
func (c *Collector) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.service.Users.Messages.Modify("me", messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return classifyGmailError(fmt.Errorf("mark message %s read: %w", messageID, err))
	}
	return nil
}

func classifyGmailError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return domain.NewStageError(domain.KindMailQuota, "", err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.NewStageError(domain.KindPermanentFetch, "", err)
		}
	}
	return err
}

func headerValue(payload *gmail.MessagePart, name string) string {
	if payload == nil {
		return ""
	}
	for _, h := range payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// messageBody flattens the MIME tree, preferring the HTML part since
// newsletters carry their links there.
func messageBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if html := findPart(payload, "text/html"); html != "" {
		return html
	}
	return findPart(payload, "text/plain")
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for _, child := range part.Parts {
		if body := findPart(child, mimeType); body != "" {
			return body
		}
	}
	return ""
}
