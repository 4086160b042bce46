// Package command answers chat commands addressed to the bot.
package command

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/fetcher"
	"github.com/perchlabs-io/balance-bot/internal/matrix"
)

// Command tokens. A token matches anywhere in the message body.
const (
	TokenParty  = "!party"
	TokenBoo    = "!boo"
	TokenStatus = "!status"
)

const (
	partyReply = "🎉🎊🥳 let's PARTY!! 🥳🎊🎉"
	booReply   = "👻  Booooo!!  👻"
)

const statsSource = "pool_stats"

// Handler maps chat messages to replies.
type Handler struct {
	stats   fetcher.StatsFetcher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewHandler builds a command handler backed by stats for the status command.
func NewHandler(stats fetcher.StatsFetcher, timeout time.Duration, logger zerolog.Logger) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{stats: stats, timeout: timeout, logger: logger.With().Str("component", "command").Logger()}
}

// Handle returns one reply per token found in the body, in party, boo,
// status order. Unknown text yields no reply.
func (h *Handler) Handle(ctx context.Context, msg matrix.Message) []string {
	var replies []string
	if strings.Contains(msg.Body, TokenParty) {
		replies = append(replies, partyReply)
	}
	if strings.Contains(msg.Body, TokenBoo) {
		replies = append(replies, booReply)
	}
	if strings.Contains(msg.Body, TokenStatus) {
		if reply, ok := h.status(ctx, msg); ok {
			replies = append(replies, reply)
		}
	}
	return replies
}

func (h *Handler) status(ctx context.Context, msg matrix.Message) (string, bool) {
	stats, err := h.PoolStats(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("room", msg.RoomID).Str("sender", msg.Sender).Msg("status query failed")
		return "", false
	}
	return alerting.RenderPoolStats(stats), true
}

// PoolStats fetches and decodes the pool statistics row.
func (h *Handler) PoolStats(ctx context.Context) (alerting.PoolStats, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	row, err := h.stats.FetchPoolStats(ctx)
	if err != nil {
		return alerting.PoolStats{}, err
	}
	stake, err := row.Decimal(statsSource, "live_stake")
	if err != nil {
		return alerting.PoolStats{}, err
	}
	saturation, err := row.Decimal(statsSource, "live_saturation")
	if err != nil {
		return alerting.PoolStats{}, err
	}
	delegators, err := row.Int(statsSource, "live_delegator_count")
	if err != nil {
		return alerting.PoolStats{}, err
	}
	return alerting.PoolStats{LiveStake: stake, LiveSaturation: saturation, DelegatorCount: delegators}, nil
}

var _ matrix.Handler = (*Handler)(nil)
