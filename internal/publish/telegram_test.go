package publish

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTelegramAdapter wires an adapter at a fake Bot API server.
func newTelegramAdapter(server *httptest.Server) *TelegramAdapter {
	adapter := NewTelegramAdapter("tg-main", "test-token", "12345")
	adapter.apiEndpoint = server.URL + "/bot%s/%s"
	return adapter
}

func botOK(w http.ResponseWriter) {
	fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"quill","username":"quill_bot"}}`)
}

func botError(w http.ResponseWriter, code int, description string) {
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"ok":false,"error_code":%d,"description":%q}`, code, description)
}

func TestTelegramPublish(t *testing.T) {
	ctx := context.Background()
	item := testItem(0x0a, "tg-main")

	t.Run("sends an html message and returns the reference", func(t *testing.T) {
		var sentText, chatID, parseMode string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/getMe") {
				botOK(w)
				return
			}
			require.NoError(t, r.ParseForm())
			sentText = r.FormValue("text")
			chatID = r.FormValue("chat_id")
			parseMode = r.FormValue("parse_mode")
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":77,"chat":{"id":12345}}}`)
		}))
		defer server.Close()

		adapter := newTelegramAdapter(server)
		ref, err := adapter.Publish(ctx, item, testDraft())
		require.NoError(t, err)

		assert.Equal(t, "12345/77", ref)
		assert.Equal(t, "12345", chatID)
		assert.Equal(t, "HTML", parseMode)
		assert.Contains(t, sentText, "<b>Draft Title</b>")
		assert.Contains(t, sentText, "Draft body.")
	})

	t.Run("transient connect failure is retried on the next publish", func(t *testing.T) {
		var getMeCalls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/getMe") {
				// First dial lands while the API is down
				if atomic.AddInt32(&getMeCalls, 1) == 1 {
					botError(w, 500, "Internal Server Error")
					return
				}
				botOK(w)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":5,"chat":{"id":12345}}}`)
		}))
		defer server.Close()

		adapter := newTelegramAdapter(server)
		_, err := adapter.Publish(ctx, item, testDraft())
		require.ErrorIs(t, err, ErrPlatformUnavailable)

		ref, err := adapter.Publish(ctx, item, testDraft())
		require.NoError(t, err)
		assert.Equal(t, "12345/5", ref)
		assert.Equal(t, int32(2), atomic.LoadInt32(&getMeCalls))
	})

	t.Run("auth failure is cached without re-dialing", func(t *testing.T) {
		var getMeCalls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&getMeCalls, 1)
			botError(w, 401, "Unauthorized")
		}))
		defer server.Close()

		adapter := newTelegramAdapter(server)
		_, err := adapter.Publish(ctx, item, testDraft())
		require.ErrorIs(t, err, ErrAuth)

		_, err = adapter.Publish(ctx, item, testDraft())
		require.ErrorIs(t, err, ErrAuth)
		assert.Equal(t, int32(1), atomic.LoadInt32(&getMeCalls))
	})

	t.Run("missing credentials fail with auth", func(t *testing.T) {
		adapter := NewTelegramAdapter("tg-main", "", "12345")
		_, err := adapter.Publish(ctx, item, testDraft())
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("send errors map onto the publish sentinels", func(t *testing.T) {
		var sendStatus int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/getMe") {
				botOK(w)
				return
			}
			botError(w, sendStatus, "nope")
		}))
		defer server.Close()

		cases := []struct {
			status int
			want   error
		}{
			{429, ErrRateLimited},
			{403, ErrAuth},
			{400, ErrValidation},
			{502, ErrPlatformUnavailable},
		}
		for _, tc := range cases {
			adapter := newTelegramAdapter(server)
			sendStatus = tc.status
			_, err := adapter.Publish(ctx, item, testDraft())
			assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		}
	})
}

func TestTelegramMessage(t *testing.T) {
	adapter := NewTelegramAdapter("tg-main", "test-token", "12345")

	t.Run("short drafts pass through untruncated", func(t *testing.T) {
		msg := adapter.message(testDraft())
		assert.Contains(t, msg.Text, "<b>Draft Title</b>")
		assert.NotContains(t, msg.Text, "…")
	})

	t.Run("long drafts truncate on a rune boundary", func(t *testing.T) {
		draft := testDraft()
		// Multi-byte content makes a byte-offset cut produce invalid UTF-8
		draft.Body = strings.Repeat("管道内容", 1500)

		msg := adapter.message(draft)
		assert.True(t, utf8.ValidString(msg.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(msg.Text), telegramMessageLimit)
		assert.True(t, strings.HasSuffix(msg.Text, "…"))
	})

	t.Run("channel names address by @name", func(t *testing.T) {
		channel := NewTelegramAdapter("tg-main", "test-token", "@quill_news")
		msg := channel.message(testDraft())
		assert.Equal(t, "@quill_news", msg.ChannelUsername)
	})
}
