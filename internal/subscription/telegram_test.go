package subscription

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestChecker(t *testing.T, handler http.HandlerFunc) *TelegramChecker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewTelegramChecker(TelegramConfig{
		APIURL:   srv.URL,
		BotToken: "123:abc",
		Channel:  "@cloudspb",
	}, zerolog.Nop())
}

func TestTelegramChecker_Check(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		wantSubscribed bool
		wantTime       bool
		wantErr        bool
	}{
		{name: "member", body: `{"ok":true,"result":{"status":"member"}}`, wantSubscribed: true, wantTime: true},
		{name: "creator", body: `{"ok":true,"result":{"status":"creator"}}`, wantSubscribed: true, wantTime: true},
		{name: "administrator", body: `{"ok":true,"result":{"status":"administrator"}}`, wantSubscribed: true, wantTime: true},
		{name: "left", body: `{"ok":true,"result":{"status":"left"}}`},
		{name: "kicked", body: `{"ok":true,"result":{"status":"kicked"}}`},
		{name: "api error", body: `{"ok":false,"description":"Bad Request: chat not found"}`, wantErr: true},
		{name: "garbage", body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotChat, gotUser string
			checker := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				gotChat = r.URL.Query().Get("chat_id")
				gotUser = r.URL.Query().Get("user_id")
				_, _ = w.Write([]byte(tt.body))
			})

			status, err := checker.Check(context.Background(), 42)
			require.Equal(t, "/bot123:abc/getChatMember", gotPath)
			require.Equal(t, "@cloudspb", gotChat)
			require.Equal(t, "42", gotUser)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantSubscribed, status.IsSubscribed)
			require.Equal(t, tt.wantTime, status.MeetsTimeRequirement)
		})
	}
}

func TestTelegramChecker_JoinedDate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name      string
		joinedAgo time.Duration
		wantTime  bool
	}{
		{name: "recent", joinedAgo: 3 * time.Minute, wantTime: false},
		{name: "old enough", joinedAgo: 11 * time.Minute, wantTime: true},
		{name: "exactly minimum", joinedAgo: 10 * time.Minute, wantTime: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := now.Add(-tt.joinedAgo).Unix()
			checker := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"ok":true,"result":{"status":"member","joined_date":%d}}`, joined)
			})
			checker.now = func() time.Time { return now }

			status, err := checker.Check(context.Background(), 1)
			require.NoError(t, err)
			require.True(t, status.IsSubscribed)
			require.Equal(t, tt.wantTime, status.MeetsTimeRequirement)
			require.NotNil(t, status.Duration)
			require.Equal(t, tt.joinedAgo, *status.Duration)

			if !tt.wantTime {
				require.Equal(t, DefaultMinDuration-tt.joinedAgo, status.Remaining(DefaultMinDuration))
			}
		})
	}
}

func TestTelegramChecker_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	checker := NewTelegramChecker(TelegramConfig{APIURL: srv.URL, BotToken: "secret-token", Channel: "c"}, zerolog.Nop())

	status, err := checker.Check(context.Background(), 1)
	require.Error(t, err)
	require.False(t, status.IsSubscribed)
	require.NotContains(t, err.Error(), "secret-token")
}

func TestDisabled(t *testing.T) {
	status, err := Disabled{}.Check(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, status.IsSubscribed)
	require.True(t, status.MeetsTimeRequirement)
}
