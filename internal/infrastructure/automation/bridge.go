package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"lettercast/internal/domain"
	"lettercast/internal/ports"
)

// Bridge talks to the local automation bridge service that drives the
// audio-generation UI. The bridge exposes a small HTTP API; at most one
// session may be open against it at a time.
type Bridge struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ports.AudioGenerator = (*Bridge)(nil)

// NewBridge creates a client for the automation bridge at baseURL. The
// timeout bounds every bridge call, including audio generation itself.
func NewBridge(baseURL string, timeout time.Duration, logger *slog.Logger) *Bridge {
	return &Bridge{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type generateRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type generateResponse struct {
	AudioPath   string `json:"audio_path"`
	WorkspaceID string `json:"workspace_id"`
}

// timeoutResponse is the bridge's 504 body: which phase timed out and the
// workspace that was created before the deadline, if any.
type timeoutResponse struct {
	Phase       string `json:"phase"`
	WorkspaceID string `json:"workspace_id"`
}

// AcquireSession opens the exclusive automation session. A 423 from the
// bridge means another holder is alive.
func (b *Bridge) AcquireSession(ctx context.Context) (ports.AudioSession, error) {
	resp, err := b.do(ctx, http.MethodPost, "/session", nil)
	if err != nil {
		return nil, domain.NewStageError(domain.KindAutomationTimeout, "", fmt.Errorf("open session: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusLocked:
		drain(resp.Body)
		return nil, domain.NewStageError(domain.KindSessionLocked, "",
			errors.New("automation session is held by another process"))
	default:
		return nil, domain.NewStageError(domain.KindAutomationTimeout, "", statusError(resp))
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode session response: %w", err)
	}
	b.logger.Debug("automation session opened", "session_id", sr.SessionID)
	return &bridgeSession{bridge: b, id: sr.SessionID}, nil
}

// CleanupWorkspace deletes a generation workspace on the bridge side. Valid
// without an open session; a missing workspace is not an error.
func (b *Bridge) CleanupWorkspace(ctx context.Context, workspaceID string) error {
	resp, err := b.do(ctx, http.MethodDelete, "/workspace/"+url.PathEscape(workspaceID), nil)
	if err != nil {
		return fmt.Errorf("delete workspace %s: %w", workspaceID, err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent &&
		resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete workspace %s: %w", workspaceID, statusError(resp))
	}
	return nil
}

func (b *Bridge) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return b.httpClient.Do(req)
}

// bridgeSession is one open session on the bridge.
type bridgeSession struct {
	bridge *Bridge
	id     string
}

var _ ports.AudioSession = (*bridgeSession)(nil)

// Generate asks the bridge to turn one URL into an audio file. A 504 carries
// the phase that timed out, which the retry policy treats differently for
// the workspace-setup phase versus the generation phase.
func (s *bridgeSession) Generate(ctx context.Context, pageURL, title string) (ports.GenerateResult, error) {
	resp, err := s.bridge.do(ctx, http.MethodPost, "/session/"+url.PathEscape(s.id)+"/generate",
		generateRequest{URL: pageURL, Title: title})
	if err != nil {
		// A client-side deadline is indistinguishable from the bridge hanging
		// during automation; classify it the same way.
		return ports.GenerateResult{}, domain.NewStageError(domain.KindAutomationTimeout, "",
			fmt.Errorf("generate: %w", err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var gr generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
			return ports.GenerateResult{}, fmt.Errorf("decode generate response: %w", err)
		}
		return ports.GenerateResult{AudioPath: gr.AudioPath, WorkspaceID: gr.WorkspaceID}, nil

	case http.StatusGatewayTimeout:
		var tr timeoutResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return ports.GenerateResult{}, domain.NewStageError(domain.KindAutomationTimeout, "",
				fmt.Errorf("generate timed out: %w", err))
		}
		kind := domain.KindAutomationTimeout
		if tr.Phase == "generation" {
			kind = domain.KindGenerationTimeout
		}
		return ports.GenerateResult{}, domain.NewStageError(kind, tr.WorkspaceID,
			fmt.Errorf("generate timed out during %s phase", tr.Phase))

	case http.StatusLocked:
		drain(resp.Body)
		return ports.GenerateResult{}, domain.NewStageError(domain.KindSessionLocked, "",
			errors.New("session was taken over by another process"))

	default:
		return ports.GenerateResult{}, domain.NewStageError(domain.KindAutomationTimeout, "", statusError(resp))
	}
}

// Restart tears down and reopens the underlying automation state while
// keeping the same session ID.
func (s *bridgeSession) Restart(ctx context.Context) error {
	resp, err := s.bridge.do(ctx, http.MethodPost, "/session/"+url.PathEscape(s.id)+"/restart", nil)
	if err != nil {
		return fmt.Errorf("restart session: %w", err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("restart session: %w", statusError(resp))
	}
	s.bridge.logger.Debug("automation session restarted", "session_id", s.id)
	return nil
}

// Close releases the exclusive session.
func (s *bridgeSession) Close(ctx context.Context) error {
	resp, err := s.bridge.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(s.id), nil)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("close session: %w", statusError(resp))
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) == 0 {
		return fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, body)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 4096))
}
