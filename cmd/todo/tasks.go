package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tasklists/project/internal/app/tasks"
)

// openView returns a mounted controller for the command's view.
type openView func(ctx context.Context, a *app) (tasks.Controller, error)

func personalView(ctx context.Context, a *app) (tasks.Controller, error) {
	sess, err := a.user(ctx)
	if err != nil {
		return nil, err
	}
	return tasks.NewPersonal(a.stack.Store, a.stack.Realtime, sess.UserID, a.loc, tasks.WithLogger(a.logger)), nil
}

func itemsView(listID *string) openView {
	return func(ctx context.Context, a *app) (tasks.Controller, error) {
		if strings.TrimSpace(*listID) == "" {
			return nil, fmt.Errorf("--list is required")
		}
		if _, err := a.member(ctx, *listID); err != nil {
			return nil, err
		}
		return tasks.NewSharedItems(a.stack.Store, a.stack.Realtime, *listID, a.loc, tasks.WithLogger(a.logger)), nil
	}
}

// withView mounts the view, runs fn and closes the view again.
func withView(cmd *cobra.Command, opts *globalOptions, open openView, fn func(ctx context.Context, a *app, view tasks.Controller) error) error {
	return run(cmd, opts, func(ctx context.Context, a *app) error {
		view, err := open(ctx, a)
		if err != nil {
			return err
		}
		if err := view.Mount(ctx); err != nil {
			return err
		}
		defer view.Close()
		return fn(ctx, a, view)
	})
}

func todosCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todos",
		Short: "Manage personal todos",
	}
	addTaskCommands(cmd, opts, personalView)
	return cmd
}

func itemsCmd(opts *globalOptions) *cobra.Command {
	var listID string
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage the items of a shared list",
	}
	cmd.PersistentFlags().StringVar(&listID, "list", "", "shared list id")
	addTaskCommands(cmd, opts, itemsView(&listID))
	return cmd
}

func addTaskCommands(parent *cobra.Command, opts *globalOptions, open openView) {
	var all bool
	var group string
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show tasks grouped by date",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withView(cmd, opts, open, func(_ context.Context, a *app, view tasks.Controller) error {
				if group != "" {
					view.ToggleGroup(group)
				}
				renderBoard(a.out, view.Board(), all)
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "expand every date group")
	list.Flags().StringVar(&group, "group", "", "date group to expand instead of the most recent one")

	add := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, opts, open, func(ctx context.Context, a *app, view tasks.Controller) error {
				entry, err := view.AddEntry(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s %s\n", successStyle.Render("Added"), renderEntry(entry))
				return nil
			})
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a task between open and done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, opts, open, func(ctx context.Context, a *app, view tasks.Controller) error {
				id, err := resolveID(view.Board(), args[0])
				if err != nil {
					return err
				}
				entry, err := view.ToggleEntry(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, renderEntry(entry))
				return nil
			})
		},
	}

	remove := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd, opts, open, func(ctx context.Context, a *app, view tasks.Controller) error {
				id, err := resolveID(view.Board(), args[0])
				if err != nil {
					return err
				}
				if err := view.Delete(ctx, id); err != nil {
					return err
				}
				fmt.Fprintln(a.out, successStyle.Render("Deleted ")+shortID(id))
				return nil
			})
		},
	}

	parent.AddCommand(list, add, toggle, remove)
}

// resolveID expands a unique id prefix as printed by the list command.
func resolveID(b tasks.Board, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", tasks.ErrTaskNotFound
	}
	var match string
	for _, g := range b.Groups {
		for _, e := range g.Entries {
			if e.ID == prefix {
				return e.ID, nil
			}
			if !strings.HasPrefix(e.ID, prefix) {
				continue
			}
			if match != "" {
				return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
			}
			match = e.ID
		}
	}
	if match == "" {
		return "", tasks.ErrTaskNotFound
	}
	return match, nil
}
