package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/perchlabs-io/balance-bot/internal/alerting"
	"github.com/perchlabs-io/balance-bot/internal/command"
)

// Status prints the current pool statistics.
func (a *App) Status(ctx context.Context, w io.Writer) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return writeStatus(ctx, w, command.NewHandler(a.newFetcher(store), a.Config.Scheduler.FeedTimeout, a.Logger))
}

type poolStatser interface {
	PoolStats(ctx context.Context) (alerting.PoolStats, error)
}

func writeStatus(ctx context.Context, w io.Writer, src poolStatser) error {
	stats, err := src.PoolStats(ctx)
	if err != nil {
		return fmt.Errorf("query pool statistics: %w", err)
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Live Stake (ADA)\tSaturation %\tDelegators")
	fmt.Fprintf(writer, "%s\t%s\t%d\n",
		alerting.FormatGrouped(stats.LiveStake),
		alerting.FormatGrouped(stats.LiveSaturation),
		stats.DelegatorCount,
	)
	return writer.Flush()
}
