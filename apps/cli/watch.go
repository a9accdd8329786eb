package main

import (
	"context"
	"errors"
	"time"

	"github.com/unihub/unihub/services/realtime"
)

// watch prints the realtime activity of the signed-in user until the duration
// elapsed or the process is interrupted.
func (cli *commandLine) watch(ctx context.Context, args []string) error {
	fs := cli.flagSet("watch")
	duration := fs.Duration("duration", 0, "Stop after this long (0 means until interrupted)")
	if err := parse(fs, args); err != nil {
		return err
	}
	usr, err := cli.requireSession(ctx)
	if err != nil {
		return err
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if *duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, *duration)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	states, cancelStates := cli.manager.States()
	defer cancelStates()

	done := make(chan error, 1)
	go func() { done <- cli.watcher.Run(runCtx) }()
	cli.printf("Watching activity for %s, press Ctrl+C to stop.\n", usr.Name)

	var last realtime.Activity
	for {
		select {
		case err := <-done:
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			cli.printf("%s connection %s\n", stamp(), st)

		case act := <-cli.watcher.Updates():
			if act.Badge != nil {
				cli.printf("%s new badge: %s (%s)\n", stamp(), act.Badge.BadgeName, act.Badge.BadgeDescription)
				cli.watcher.ClearBadge()
			}
			if act.LeaderboardUpdated && !last.LeaderboardUpdated {
				cli.printf("%s leaderboard updated\n", stamp())
			}
			if act.DashboardUpdated && !last.DashboardUpdated {
				cli.printf("%s dashboard updated\n", stamp())
			}
			last = act
		}
	}
}

func stamp() string {
	return time.Now().Format("15:04:05")
}
