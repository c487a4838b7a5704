package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// ErrChannelUnavailable indicates the bot cannot see the channel.
var ErrChannelUnavailable = errors.New("channel unavailable")

// TelegramConfig configures TelegramChecker.
type TelegramConfig struct {
	APIURL      string
	BotToken    string
	Channel     string
	MinDuration time.Duration
	Timeout     time.Duration
}

// TelegramChecker checks channel membership through the Bot API getChatMember call.
type TelegramChecker struct {
	cfg        TelegramConfig
	channel    string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewTelegramChecker creates a checker for cfg.Channel.
func NewTelegramChecker(cfg TelegramConfig, logger zerolog.Logger) *TelegramChecker {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &TelegramChecker{
		cfg:        cfg,
		channel:    strings.TrimPrefix(cfg.Channel, "@"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("service", "subscription").Logger(),
		now:        time.Now,
	}
}

// Channel returns the channel handle without "@".
func (c *TelegramChecker) Channel() string {
	return c.channel
}

// MinDuration returns the required subscription age.
func (c *TelegramChecker) MinDuration() time.Duration {
	return c.cfg.MinDuration
}

type chatMemberResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		Status     string `json:"status"`
		JoinedDate int64  `json:"joined_date"`
	} `json:"result"`
}

// Check implements Checker. Any failure yields a not-subscribed status
// together with the error.
func (c *TelegramChecker) Check(ctx context.Context, userID int64) (Status, error) {
	params := url.Values{}
	params.Set("chat_id", "@"+c.channel)
	params.Set("user_id", strconv.FormatInt(userID, 10))
	endpoint := fmt.Sprintf("%s/bot%s/getChatMember?%s", strings.TrimRight(c.cfg.APIURL, "/"), c.cfg.BotToken, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Status{Status: "error"}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token; log only the channel.
		c.logger.Error().Str("channel", c.channel).Int64("user_id", userID).Msg("subscription check request failed")
		return Status{Status: "error"}, fmt.Errorf("getChatMember request failed: %w", errors.Unwrap(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Status{Status: "error"}, fmt.Errorf("failed to read getChatMember response: %w", err)
	}

	var parsed chatMemberResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Error().Err(err).Int("status", resp.StatusCode).Msg("invalid getChatMember response")
		return Status{Status: "error"}, fmt.Errorf("invalid getChatMember response: %w", err)
	}

	if !parsed.OK {
		c.logger.Error().
			Str("channel", c.channel).
			Int64("user_id", userID).
			Int("status", resp.StatusCode).
			Str("description", parsed.Description).
			Msg("subscription check rejected")
		return Status{Status: "channel_error"}, fmt.Errorf("%w: %s", ErrChannelUnavailable, parsed.Description)
	}

	var joinedAt *time.Time
	if parsed.Result.JoinedDate > 0 {
		t := time.Unix(parsed.Result.JoinedDate, 0)
		joinedAt = &t
	}

	status := evaluate(parsed.Result.Status, joinedAt, c.now(), c.cfg.MinDuration)

	c.logger.Info().
		Int64("user_id", userID).
		Str("status", status.Status).
		Bool("subscribed", status.IsSubscribed).
		Msg("subscription checked")

	return status, nil
}
