package app

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Operator:   config.OperatorConfig{SlotsAssigned: 4},
		Thresholds: config.ThresholdsConfig{StakeLow: "-100000", StakeHigh: "100000"},
	}
}

func TestSimulateSendsOnlySignificantMoves(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	var out bytes.Buffer
	notifier := alerting.NewLogNotifier(&out, zerolog.Nop())

	err := a.simulate(context.Background(), SimulateOptions{
		Previous: decimal.NewFromInt(1_000_000),
		Current:  decimal.NewFromInt(1_050_000),
	}, notifier)
	require.NoError(t, err)
	assert.Empty(t, out.String())

	err = a.simulate(context.Background(), SimulateOptions{
		Previous: decimal.NewFromInt(1_000_000),
		Current:  decimal.NewFromInt(850_000),
	}, notifier)
	require.NoError(t, err)
	assert.Equal(t, "[pool_stake]\n❌   Live Stake   ⬇️   150,000.00 ₳\n\n", out.String())
}

func TestSimulateRejectsBadThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds.StakeHigh = "lots"
	a := NewApp(cfg, zerolog.Nop())

	err := a.simulate(context.Background(), SimulateOptions{}, alerting.NewLogNotifier(&bytes.Buffer{}, zerolog.Nop()))
	assert.ErrorIs(t, err, config.ErrConfig)
}

func TestSimulateAlertRequiresChatUnlessDryRun(t *testing.T) {
	a := NewApp(testConfig(), zerolog.Nop())
	err := a.SimulateAlert(context.Background(), SimulateOptions{})
	assert.ErrorIs(t, err, config.ErrConfig)
}

type fixedStats struct {
	stats alerting.PoolStats
	err   error
}

func (f fixedStats) PoolStats(context.Context) (alerting.PoolStats, error) {
	return f.stats, f.err
}

func TestWriteStatus(t *testing.T) {
	var out bytes.Buffer
	err := writeStatus(context.Background(), &out, fixedStats{stats: alerting.PoolStats{
		LiveStake:      decimal.RequireFromString("12345678.5"),
		LiveSaturation: decimal.RequireFromString("17.25"),
		DelegatorCount: 908,
	}})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Live Stake (ADA)")
	assert.Contains(t, out.String(), "12,345,678.5")
	assert.Contains(t, out.String(), "908")

	err = writeStatus(context.Background(), &out, fixedStats{err: errors.New("down")})
	assert.Error(t, err)
}
