// File: internal/notify/telegram.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/config"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram fans messages out to every configured chat via the Bot API.
type Telegram struct {
	httpClient *http.Client
	token      string
	chatIDs    []string
	baseURL    string
	logger     *zap.Logger
	now        func() time.Time
}

var _ Sink = (*Telegram)(nil)

// TelegramOption customizes the sink.
type TelegramOption func(*Telegram)

// WithAPIBase points the sink at an alternate Bot API host. Used by tests.
func WithAPIBase(url string) TelegramOption {
	return func(t *Telegram) { t.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) TelegramOption {
	return func(t *Telegram) { t.httpClient = hc }
}

func NewTelegram(cfg config.TelegramConfig, logger *zap.Logger, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      cfg.BotToken,
		chatIDs:    cfg.ChatIDs,
		baseURL:    defaultTelegramAPI,
		logger:     logger.Named("telegram"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Telegram) Status(ctx context.Context, message string) error {
	return t.broadcast(ctx, message)
}

func (t *Telegram) Alert(ctx context.Context, message string) error {
	return t.broadcast(ctx, "\U0001f6a8 "+message)
}

func (t *Telegram) SlotAlert(ctx context.Context, details SlotDetails, screenshot []byte) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\U0001f525 SLOTS DETECTED!\n\n")
	fmt.Fprintf(&b, "%s\n", details.Location)
	b.WriteString(details.VisaType)
	if details.VisaSubType != "" {
		fmt.Fprintf(&b, " — %s", details.VisaSubType)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s — %s\n\n", details.AppointmentFor, details.NumberOfMembers)
	if details.BookingURL != "" {
		fmt.Fprintf(&b, "➡ %s\n\n", details.BookingURL)
	}
	fmt.Fprintf(&b, "Time: %s", t.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	message := b.String()

	var errs []error
	for _, chatID := range t.chatIDs {
		if err := t.sendMessage(ctx, chatID, message); err != nil {
			errs = append(errs, err)
			continue
		}
		if screenshot != nil {
			if err := t.sendPhoto(ctx, chatID, screenshot, "Slot availability screenshot"); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) Health(ctx context.Context, stats HealthStats) error {
	message := fmt.Sprintf(
		"✅ Health check\nChecks: %d\nUptime: %.1fh\nRecent errors: %d",
		stats.TotalChecks, stats.Uptime.Hours(), stats.ConsecutiveErrors,
	)
	return t.broadcast(ctx, message)
}

func (t *Telegram) LowBalance(ctx context.Context, balance float64) error {
	message := fmt.Sprintf(
		"⚠️ Captcha service balance low: $%.2f\nTop up to avoid solve failures.",
		balance,
	)
	return t.broadcast(ctx, message)
}

func (t *Telegram) broadcast(ctx context.Context, text string) error {
	var errs []error
	for _, chatID := range t.chatIDs {
		if err := t.sendMessage(ctx, chatID, text); err != nil {
			t.logger.Error("Telegram send failed", zap.String("chatId", chatID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) sendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req)
}

func (t *Telegram) sendPhoto(ctx context.Context, chatID string, photo []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return err
	}
	if caption != "" {
		if len(caption) > 1024 {
			caption = caption[:1024]
		}
		if err := mw.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("photo", "screenshot.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.methodURL("sendPhoto"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return t.do(req)
}

func (t *Telegram) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

func (t *Telegram) do(req *http.Request) error {
	res, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("telegram api error: %s %s", res.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}
