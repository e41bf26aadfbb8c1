// File: internal/notify/telegram_test.go
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/config"
)

type recordedCall struct {
	method string
	chatID string
	text   string
	photo  bool
}

type botAPIStub struct {
	mu    sync.Mutex
	calls []recordedCall
	fail  bool
}

func (s *botAPIStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
			return
		}

		switch {
		case r.URL.Path == "/bottest-token/sendMessage":
			var payload struct {
				ChatID string `json:"chat_id"`
				Text   string `json:"text"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			s.calls = append(s.calls, recordedCall{method: "sendMessage", chatID: payload.ChatID, text: payload.Text})
		case r.URL.Path == "/bottest-token/sendPhoto":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, _, err := r.FormFile("photo")
			require.NoError(t, err)
			s.calls = append(s.calls, recordedCall{
				method: "sendPhoto",
				chatID: r.FormValue("chat_id"),
				photo:  true,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"ok":true}`))
	}
}

func newTestTelegram(t *testing.T, stub *botAPIStub, chatIDs ...string) *Telegram {
	t.Helper()
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)
	tg := NewTelegram(
		config.TelegramConfig{BotToken: "test-token", ChatIDs: chatIDs},
		zap.NewNop(),
		WithAPIBase(srv.URL),
	)
	tg.now = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	return tg
}

func TestStatusBroadcastsToAllChats(t *testing.T) {
	stub := &botAPIStub{}
	tg := newTestTelegram(t, stub, "111", "222")

	require.NoError(t, tg.Status(context.Background(), "monitor started"))

	require.Len(t, stub.calls, 2)
	assert.Equal(t, "111", stub.calls[0].chatID)
	assert.Equal(t, "222", stub.calls[1].chatID)
	assert.Equal(t, "monitor started", stub.calls[0].text)
}

func TestAlertPrefix(t *testing.T) {
	stub := &botAPIStub{}
	tg := newTestTelegram(t, stub, "111")

	require.NoError(t, tg.Alert(context.Background(), "3 consecutive errors"))
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "\U0001f6a8 3 consecutive errors", stub.calls[0].text)
}

func TestSlotAlertSendsMessageAndPhoto(t *testing.T) {
	stub := &botAPIStub{}
	tg := newTestTelegram(t, stub, "111")

	details := SlotDetails{
		Location:        "Moscow",
		VisaType:        "National Visa",
		VisaSubType:     "D2",
		AppointmentFor:  "Family",
		NumberOfMembers: "2 Members",
		BookingURL:      "https://portal.example/Global/bls/VisaTypeVerification",
	}
	require.NoError(t, tg.SlotAlert(context.Background(), details, []byte("png")))

	require.Len(t, stub.calls, 2)
	msg := stub.calls[0]
	assert.Contains(t, msg.text, "SLOTS DETECTED")
	assert.Contains(t, msg.text, "Moscow")
	assert.Contains(t, msg.text, "National Visa — D2")
	assert.Contains(t, msg.text, "Family — 2 Members")
	assert.Contains(t, msg.text, details.BookingURL)
	assert.Contains(t, msg.text, "2026-03-14 09:26:53 UTC")
	assert.True(t, stub.calls[1].photo)
}

func TestSlotAlertWithoutScreenshot(t *testing.T) {
	stub := &botAPIStub{}
	tg := newTestTelegram(t, stub, "111")

	require.NoError(t, tg.SlotAlert(context.Background(), SlotDetails{Location: "Moscow"}, nil))
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "sendMessage", stub.calls[0].method)
}

func TestHealthReport(t *testing.T) {
	stub := &botAPIStub{}
	tg := newTestTelegram(t, stub, "111")

	stats := HealthStats{TotalChecks: 40, Uptime: 90 * time.Minute, ConsecutiveErrors: 1}
	require.NoError(t, tg.Health(context.Background(), stats))

	require.Len(t, stub.calls, 1)
	assert.Contains(t, stub.calls[0].text, "Checks: 40")
	assert.Contains(t, stub.calls[0].text, "Uptime: 1.5h")
	assert.Contains(t, stub.calls[0].text, "Recent errors: 1")
}

func TestLowBalanceWarning(t *testing.T) {
	stub := &botAPIStub{}
	tg := newTestTelegram(t, stub, "111")

	require.NoError(t, tg.LowBalance(context.Background(), 0.37))
	require.Len(t, stub.calls, 1)
	assert.Contains(t, stub.calls[0].text, "$0.37")
}

func TestAPIFailureReturnsError(t *testing.T) {
	stub := &botAPIStub{fail: true}
	tg := newTestTelegram(t, stub, "111", "222")

	err := tg.Status(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram api error")
}
