// Package gateway reads conversations and message history from the REST store.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/utils/platformerrors"
	"github.com/edumarket/chatsync/internal/utils/redact"
)

const (
	listConversationsPath = "/api/messages/conversations/{userId}"
	fetchMessagesPath     = "/api/messages/conversation/{conversationId}"
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Redactor        *redact.Redactor
}

// Client is a stateless wrapper over the conversation store endpoints.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	redact  *redact.Redactor
	log     zerolog.Logger
}

// NewClient builds a store client.
func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "chatsync/1.0").
		SetTimeout(opts.Timeout)
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}

	logger := log.With().Str("component", "store-gateway").Logger()
	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "conversation-store",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		tracer:  otel.Tracer("chatsync/gateway"),
		redact:  opts.Redactor,
		log:     logger,
	}
}

// ListConversations returns selfID's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context, selfID string) ([]conversation.Summary, error) {
	var body conversationsResponse
	err := c.get(ctx, "ListConversations", func(req *resty.Request) (*resty.Response, error) {
		return req.SetPathParam("userId", selfID).SetResult(&body).Get(listConversationsPath)
	}, attribute.String("chatsync.user_id", selfID))
	if err != nil {
		return nil, err
	}

	out := make([]conversation.Summary, 0, len(body.Conversations))
	for _, dto := range body.Conversations {
		out = append(out, dto.toSummary(selfID))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// FetchMessages returns the messages of a conversation, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var body messagesResponse
	err := c.get(ctx, "FetchMessages", func(req *resty.Request) (*resty.Response, error) {
		return req.SetPathParam("conversationId", conversationID).SetResult(&body).Get(fetchMessagesPath)
	}, attribute.String("chatsync.conversation_id", conversationID))
	if err != nil {
		return nil, err
	}

	out := make([]conversation.Message, 0, len(body.Messages))
	for _, dto := range body.Messages {
		out = append(out, dto.toMessage())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (c *Client) get(
	ctx context.Context,
	op string,
	call func(*resty.Request) (*resty.Response, error),
	attrs ...attribute.KeyValue,
) error {
	ctx, span := c.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(attrs...))
	defer span.End()

	requestID := uuid.NewString()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.http.R().
			SetContext(ctx).
			SetHeader("X-Request-ID", requestID)
		resp, err := call(req)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
		if resp.IsError() {
			return nil, fmt.Errorf("store returned %d: %s", resp.StatusCode(), c.redact.Snippet(resp.String(), 200))
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn().Err(err).Str("operation", op).Str("request_id", requestID).Msg("store request failed")
		return platformerrors.NewError(platformerrors.LayerGateway, platformerrors.ErrorTypeStoreUnavailable, op+" failed", err).
			WithContext("request_id", requestID)
	}
	return nil
}
