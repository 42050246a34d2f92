package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
	"github.com/edumarket/chatsync/internal/utils/redact"
)

func newTestClient(url string) *Client {
	return NewClient(Options{
		BaseURL:         url,
		Token:           "secret-token",
		Timeout:         2 * time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
	}, zerolog.Nop())
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/conversations/10", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"conversations":[
			{"id":1,"conversationId":"conversation:10:5","partner_name":"Ada","last_message":"old","last_message_time":"2026-01-01T10:00:00Z","unread_count":0},
			{"id":"2","conversationId":"conversation:10:6","partner_id":"6","last_message":"new","last_message_time":"2026-01-02T10:00:00Z","unread_count":3}
		]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).ListConversations(context.Background(), "10")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "6", got[0].PeerID)
	assert.Equal(t, 3, got[0].UnreadCount)

	assert.Equal(t, "1", got[1].ID)
	assert.Equal(t, conversation.Key("conversation:10:5"), got[1].Key)
	assert.Equal(t, "5", got[1].PeerID, "peer is derived from the key")
	assert.Equal(t, "Ada", got[1].PeerName)
}

func TestFetchMessages_OldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/conversation/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[
			{"id":9002,"sender_id":5,"receiver_id":10,"text":"second","timestamp":"2026-01-01T10:01:00Z","status":"read"},
			{"id":9001,"sender_id":10,"receiver_id":5,"text":"first","timestamp":"2026-01-01T10:00:00Z"},
			{"id":9003,"sender_id":5,"receiver_id":10,"text":"","timestamp":"2026-01-01T10:02:00Z","file_url":"https://cdn.example.com/p.jpg","file_type":"image/jpeg","file_name":"p.jpg"}
		]}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).FetchMessages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "9001", got[0].ID)
	assert.Equal(t, "10", got[0].SenderID)
	assert.Equal(t, conversation.StatusSent, got[0].Status)
	assert.Equal(t, conversation.StatusDelivered, got[1].Status)
	require.NotNil(t, got[2].Attachment)
	assert.Equal(t, conversation.KindImage, got[2].Attachment.Kind)
	assert.Equal(t, "Sent a photo", got[2].Text)
}

func TestErrors_AreStoreUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "unauthorized",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no", http.StatusUnauthorized)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"messages": [`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchMessages(context.Background(), "1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, platformerrors.ErrStoreUnavailable))
		})
	}
}

func TestErrors_RedactResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no account for jane.doe@example.com", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Redactor: redact.New(redact.LevelHashed, "10")}, zerolog.Nop())
	_, err := client.ListConversations(context.Background(), "10")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "jane.doe@example.com")
	assert.Contains(t, err.Error(), "[EMAIL:")
}

func TestUnreachableStore(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).ListConversations(context.Background(), "10")
	require.Error(t, err)
	assert.True(t, errors.Is(err, platformerrors.ErrStoreUnavailable))
}

func TestCircuitBreaker_FailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 4; i++ {
		_, err := c.ListConversations(context.Background(), "10")
		require.Error(t, err)
		assert.True(t, errors.Is(err, platformerrors.ErrStoreUnavailable))
	}
	assert.Equal(t, int32(2), hits.Load(), "breaker opens after two consecutive failures")
}
