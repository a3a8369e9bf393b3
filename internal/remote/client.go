// Package remote fetches full records from the backend's REST endpoint. It is
// used for resync; live updates come from the feed package.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/iksnae/chatsync/internal"
	"github.com/tidwall/gjson"
)

const restPrefix = "/rest/v1/"

// Client is a PostgREST-style client for the chat_sessions and messages tables
type Client struct {
	httpClient *resty.Client
	normalizer *internal.Normalizer
}

// Options configures a Client
type Options struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
	RetryCount  int
}

// NewClient creates a client for the backend at opts.BaseURL
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("REST URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("REST URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	token := opts.AccessToken
	if token == "" {
		token = opts.APIKey
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "chatsync/1.0").
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if opts.APIKey != "" {
		httpClient.SetHeader("apikey", opts.APIKey)
	}
	if token != "" {
		httpClient.SetAuthToken(token)
	}

	return &Client{httpClient: httpClient, normalizer: internal.NewNormalizer()}, nil
}

// ListSessions returns the sessions of userID, most recently updated first.
// Rows that fail to normalize are skipped and logged.
func (c *Client) ListSessions(ctx context.Context, userID string) ([]*internal.ChatSession, error) {
	body, err := c.get(ctx, "chat_sessions", map[string]string{
		"select":  "*",
		"user_id": "eq." + userID,
		"order":   "updated_at.desc",
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]*internal.ChatSession, 0)
	gjson.ParseBytes(body).ForEach(func(_, row gjson.Result) bool {
		s, err := c.normalizer.NormalizeSession([]byte(row.Raw))
		if err != nil {
			internal.LogWarn("Skipping remote session: %v", err)
			return true
		}
		sessions = append(sessions, s)
		return true
	})
	return sessions, nil
}

// ListMessages returns the messages of sessionID in timestamp order
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]internal.Message, error) {
	body, err := c.get(ctx, "messages", map[string]string{
		"select":     "*",
		"session_id": "eq." + sessionID,
		"order":      "timestamp.asc",
	})
	if err != nil {
		return nil, err
	}

	messages := make([]internal.Message, 0)
	gjson.ParseBytes(body).ForEach(func(_, row gjson.Result) bool {
		m, err := c.normalizer.NormalizeMessage([]byte(row.Raw))
		if err != nil {
			internal.LogWarn("Skipping remote message of session %s: %v", sessionID, err)
			return true
		}
		if m.SessionID == "" {
			m.SessionID = sessionID
		}
		messages = append(messages, m)
		return true
	})
	return messages, nil
}

// Ping checks that the REST endpoint answers
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.httpClient.R().SetContext(ctx).Get(restPrefix)
	if err != nil {
		return fmt.Errorf("failed to reach REST endpoint: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("REST endpoint error (status %d): %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) get(ctx context.Context, table string, params map[string]string) ([]byte, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(restPrefix + table)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s query error (status %d): %s", table, resp.StatusCode(), resp.String())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsArray() {
		return nil, &internal.ParseError{Source: "rest", Key: table, Err: fmt.Errorf("response is not a JSON array")}
	}
	return body, nil
}
