// Package slack posts execution lifecycle notifications to a SOC channel.
// The service is optional: a nil *Service is a no-op everywhere.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewClient creates a Slack API client for the given channel.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack_client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom API
// URL. Useful for testing with a mock server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack_client"),
	}
}

// PostMessage sends Block Kit blocks to the configured channel. When
// threadTS is non-empty the message is posted as a threaded reply. Returns
// the message timestamp for threading follow-ups.
func (c *Client) PostMessage(ctx context.Context, blocks []goslack.Block, threadTS string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}
