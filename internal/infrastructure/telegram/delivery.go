package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Delivery uploads generated audio files to a Telegram channel via the Bot
// API sendAudio method.
type Delivery struct {
	apiBase    string
	token      string
	channelID  string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.Delivery = (*Delivery)(nil)

// NewDelivery creates a Telegram sender for the given bot token and channel.
// Uploads of long audio take a while, so the client timeout is generous.
func NewDelivery(token, channelID string, logger *slog.Logger) *Delivery {
	return &Delivery{
		apiBase:    defaultAPIBase,
		token:      token,
		channelID:  channelID,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
}

// SetAPIBase overrides the Bot API endpoint. Used in tests.
func (d *Delivery) SetAPIBase(base string) { d.apiBase = base }

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send uploads the audio file with a caption linking back to the source.
// Oversized payloads are permanent failures; rate limits, server errors and
// network failures are transient.
func (d *Delivery) Send(ctx context.Context, filePath, title, sourceURL string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeSendAudioForm(writer, file, filePath, title, sourceURL, d.channelID))
	}()

	url := fmt.Sprintf("%s/bot%s/sendAudio", d.apiBase, d.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return domain.NewStageError(domain.KindTransientSend, "", fmt.Errorf("send audio: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var ar apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if !ar.OK {
			return domain.NewStageError(domain.KindTransientSend, "",
				fmt.Errorf("telegram rejected upload: %s", ar.Description))
		}
		d.logger.Debug("audio delivered", "file", filepath.Base(filePath), "channel", d.channelID)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, body)

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return domain.NewStageError(domain.KindPayloadTooLarge, "", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.NewStageError(domain.KindTransientSend, "", err)
	}
	return err
}

func writeSendAudioForm(w *multipart.Writer, file *os.File, filePath, title, sourceURL, channelID string) error {
	if err := w.WriteField("chat_id", channelID); err != nil {
		return err
	}
	if err := w.WriteField("title", title); err != nil {
		return err
	}
	caption := fmt.Sprintf("🎧 %s\n\n📎 %s", title, sourceURL)
	if err := w.WriteField("caption", caption); err != nil {
		return err
	}

	part, err := w.CreateFormFile("audio", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return w.Close()
}
