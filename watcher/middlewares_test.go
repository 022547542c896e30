package watcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

func messageUpdate(userID, chatID int64, text string) *models.Update {
	return &models.Update{
		Message: &models.Message{
			Text: text,
			Chat: models.Chat{ID: chatID},
			From: &models.User{ID: userID},
		},
	}
}

func callbackUpdate(userID, chatID int64, data string) *models.Update {
	return &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb",
			From: models.User{ID: userID},
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{Chat: models.Chat{ID: chatID}},
			},
		},
	}
}

func TestBotLoggingMiddleware(t *testing.T) {
	var called bool
	next := func(_ context.Context, _ *bot.Bot, _ *models.Update) {
		called = true
	}

	middleware := BotLoggingMiddleware(next)

	tests := []struct {
		name       string
		update     *models.Update
		wantCalled bool
	}{
		{
			name:       "valid message",
			update:     messageUpdate(1, 1, "test"),
			wantCalled: true,
		},
		{
			name:       "callback query",
			update:     callbackUpdate(1, 1, callbackDay),
			wantCalled: true,
		},
		{
			name:       "nil message",
			update:     &models.Update{},
			wantCalled: false,
		},
		{
			name:       "nil update",
			update:     nil,
			wantCalled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			ctx := context.Background()
			middleware(ctx, nil, tt.update)
			if called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestBotAdminOnlyMiddleware(t *testing.T) {
	adminIDs := map[int64]struct{}{
		100: {},
		200: {},
	}

	// denied users get a message, that needs a real bot
	tests := []struct {
		name       string
		update     *models.Update
		wantCalled bool
	}{
		{
			name:       "admin user - authorized",
			update:     messageUpdate(100, 123, "/refresh"),
			wantCalled: true,
		},
		{
			name:       "second admin user - authorized",
			update:     messageUpdate(200, 456, "/refresh"),
			wantCalled: true,
		},
		{
			name:       "admin callback - authorized",
			update:     callbackUpdate(100, 123, callbackWeek),
			wantCalled: true,
		},
		{
			name:       "nil message - rejected safely",
			update:     &models.Update{},
			wantCalled: false,
		},
		{
			name: "nil from - rejected safely",
			update: &models.Update{
				Message: &models.Message{
					Chat: models.Chat{ID: 123},
					From: nil,
				},
			},
			wantCalled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			next := func(_ context.Context, _ *bot.Bot, _ *models.Update) {
				called = true
			}

			middleware := BotAdminOnlyMiddleware(adminIDs)(next)
			middleware(context.Background(), nil, tt.update)

			if called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestBotAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		userIDs    map[int64]struct{}
		update     *models.Update
		wantCalled bool
	}{
		{
			name:       "listed user",
			userIDs:    map[int64]struct{}{100: {}},
			update:     messageUpdate(100, 123, "/stats"),
			wantCalled: true,
		},
		{
			name:       "empty list allows everyone",
			userIDs:    map[int64]struct{}{},
			update:     messageUpdate(555, 123, "/stats"),
			wantCalled: true,
		},
		{
			name:       "nil list allows callbacks",
			userIDs:    nil,
			update:     callbackUpdate(555, 123, callbackDay),
			wantCalled: true,
		},
		{
			name:       "nil message - rejected safely",
			userIDs:    nil,
			update:     &models.Update{},
			wantCalled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			next := func(_ context.Context, _ *bot.Bot, _ *models.Update) {
				called = true
			}

			middleware := BotAuthMiddleware(tt.userIDs)(next)
			middleware(context.Background(), nil, tt.update)

			if called != tt.wantCalled {
				t.Errorf("next called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestBotLoggingMiddleware_Duration(t *testing.T) {
	var executionStarted int64
	next := func(_ context.Context, _ *bot.Bot, _ *models.Update) {
		atomic.StoreInt64(&executionStarted, time.Now().UnixNano())
		time.Sleep(10 * time.Millisecond)
	}

	middleware := BotLoggingMiddleware(next)

	start := time.Now()
	middleware(context.Background(), nil, messageUpdate(1, 1, "test"))
	duration := time.Since(start)

	if duration < 10*time.Millisecond {
		t.Errorf("middleware duration = %v, want >= 10ms", duration)
	}
	if atomic.LoadInt64(&executionStarted) == 0 {
		t.Error("next was not called")
	}
}

func TestUpdateUser(t *testing.T) {
	tests := []struct {
		name       string
		update     *models.Update
		wantUserID int64
		wantChatID int64
		wantOK     bool
	}{
		{name: "message", update: messageUpdate(7, 70, "x"), wantUserID: 7, wantChatID: 70, wantOK: true},
		{name: "callback", update: callbackUpdate(8, 80, "y"), wantUserID: 8, wantChatID: 80, wantOK: true},
		{name: "callback without message", update: &models.Update{CallbackQuery: &models.CallbackQuery{}}},
		{name: "empty", update: &models.Update{}},
		{name: "nil", update: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, chatID, ok := updateUser(tt.update)
			if ok != tt.wantOK || userID != tt.wantUserID || chatID != tt.wantChatID {
				t.Errorf("updateUser() = %d, %d, %v, want %d, %d, %v",
					userID, chatID, ok, tt.wantUserID, tt.wantChatID, tt.wantOK)
			}
		})
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := generateRequestID(), generateRequestID()
	if len(a) != 2*requestIDLen {
		t.Errorf("request ID length = %d, want %d", len(a), 2*requestIDLen)
	}
	if a == b {
		t.Error("request IDs are not unique")
	}
}
