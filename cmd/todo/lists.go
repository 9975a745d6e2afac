package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tasklists/project/internal/app/notify"
)

func listsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lists",
		Short: "Manage shared lists",
	}

	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show owned and joined lists",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.user(ctx)
				if err != nil {
					return err
				}
				lists, err := a.shared.ListsFor(ctx, sess.UserID)
				if err != nil {
					return err
				}
				renderLists(a.out, lists, sess.UserID)
				return nil
			})
		},
	}

	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a shared list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.user(ctx)
				if err != nil {
					return err
				}
				created, err := a.shared.Create(ctx, sess.UserID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s %s %s\n", successStyle.Render("Created"), created.Title, mutedStyle.Render(created.ID))
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:     "rm <list-id>",
		Aliases: []string{"delete"},
		Short:   "Delete an owned list with its items and collaborators",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.user(ctx)
				if err != nil {
					return err
				}
				if err := a.shared.Delete(ctx, sess.UserID, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(a.out, successStyle.Render("Deleted list ")+args[0])
				return nil
			})
		},
	}

	watchLists := &cobra.Command{
		Use:   "watch",
		Short: "Print the catalogue whenever a list is created, shared or deleted, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			watchOpts := *opts
			watchOpts.timeout = 0
			return run(cmd, &watchOpts, func(ctx context.Context, a *app) error {
				sess, err := a.user(ctx)
				if err != nil {
					return err
				}
				catalog := a.shared.Lists(sess.UserID)
				if err := catalog.Mount(ctx); err != nil {
					return err
				}
				defer catalog.Close()
				return watchCatalog(ctx, a.out, catalog, sess.UserID)
			})
		},
	}

	cmd.AddCommand(list, create, remove, watchLists)
	return cmd
}

func inviteCmd(opts *globalOptions) *cobra.Command {
	var listID string
	cmd := &cobra.Command{
		Use:   "invite <email>",
		Short: "Invite a user to a shared list by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.member(ctx, listID); err != nil {
					return err
				}
				collaborators, err := a.collab.Invite(ctx, listID, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, successStyle.Render("Invited "+strings.TrimSpace(args[0])))
				renderCollaborators(a.out, collaborators)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listID, "list", "", "shared list id")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func collaboratorsCmd(opts *globalOptions) *cobra.Command {
	var listID string
	cmd := &cobra.Command{
		Use:   "collaborators",
		Short: "Show who can edit a shared list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.member(ctx, listID); err != nil {
					return err
				}
				collaborators, err := a.collab.ListCollaborators(ctx, listID)
				if err != nil {
					return err
				}
				renderCollaborators(a.out, collaborators)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listID, "list", "", "shared list id")
	_ = cmd.MarkFlagRequired("list")
	return cmd
}

func notificationsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "Show list invitations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withFeed(cmd, opts, func(_ context.Context, a *app, feed *notify.Feed) error {
				renderNotifications(a.out, feed.Items(), feed.UnreadCount())
				return nil
			})
		},
	}

	read := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark an invitation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFeed(cmd, opts, func(ctx context.Context, a *app, feed *notify.Feed) error {
				if err := feed.MarkRead(ctx, args[0]); err != nil {
					return err
				}
				renderNotifications(a.out, feed.Items(), feed.UnreadCount())
				return nil
			})
		},
	}

	cmd.AddCommand(read)
	return cmd
}

func withFeed(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app, feed *notify.Feed) error) error {
	return run(cmd, opts, func(ctx context.Context, a *app) error {
		sess, err := a.user(ctx)
		if err != nil {
			return err
		}
		feed := notify.NewFeed(a.stack.Store, sess.UserID, a.logger)
		if err := feed.Refresh(ctx); err != nil {
			return err
		}
		return fn(ctx, a, feed)
	})
}
