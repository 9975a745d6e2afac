package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tasklists/project/internal/app/notify"
	"github.com/tasklists/project/internal/app/shared"
	"github.com/tasklists/project/internal/app/tasks"
)

func watchCmd(opts *globalOptions) *cobra.Command {
	var listID string
	var all bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the board whenever it changes, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			open := openView(personalView)
			if listID != "" {
				open = itemsView(&listID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			// The command timeout bounds one-shot commands only.
			watchOpts := *opts
			watchOpts.timeout = 0
			return withView(cmd, &watchOpts, open, func(ctx context.Context, a *app, view tasks.Controller) error {
				return watch(ctx, a, view, all)
			})
		},
	}
	cmd.Flags().StringVar(&listID, "list", "", "watch a shared list instead of personal todos")
	cmd.Flags().BoolVar(&all, "all", false, "expand every date group")
	return cmd
}

func watch(ctx context.Context, a *app, view tasks.Controller, all bool) error {
	sess, err := a.user(ctx)
	if err != nil {
		return err
	}

	changed := make(chan struct{}, 1)
	signalChange := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	defer view.OnChange(signalChange)()

	feed := notify.NewFeed(a.stack.Store, sess.UserID, a.logger)
	if err := feed.Refresh(ctx); err != nil {
		a.logger.Warn("load notifications", "err", err)
	}
	unread := make(chan int, 1)
	if interval := a.cfg.NotificationPollInterval; interval > 0 {
		go feed.Poll(ctx, interval, func(n int) {
			select {
			case unread <- n:
			default:
			}
		})
	}

	renderBoard(a.out, view.Board(), all)
	renderUnread(a.out, feed.UnreadCount())
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.out)
			return nil
		case <-changed:
			fmt.Fprintln(a.out)
			renderBoard(a.out, view.Board(), all)
		case n := <-unread:
			renderUnread(a.out, n)
		}
	}
}

// watchCatalog reprints the list catalogue on every change until ctx ends.
func watchCatalog(ctx context.Context, w io.Writer, catalog *shared.Catalog, userID string) error {
	changed := make(chan struct{}, 1)
	defer catalog.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})()

	renderLists(w, catalog.Items(), userID)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return nil
		case <-changed:
			fmt.Fprintln(w)
			renderLists(w, catalog.Items(), userID)
		}
	}
}
