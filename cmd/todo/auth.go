package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

type credentialFlags struct {
	email    string
	password string
}

func (f *credentialFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password (prompted when empty)")
}

// resolve prompts for whatever was not passed as a flag.
func (f *credentialFlags) resolve() error {
	var fields []huh.Field
	if strings.TrimSpace(f.email) == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&f.email).
			Validate(validateRequired("Email")))
	}
	if f.password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&f.password).
			Validate(validateRequired("Password")))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(name + " is required")
		}
		return nil
	}
}

func signupCmd(opts *globalOptions) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolve(); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.sessions.SignUp(ctx, creds.email, creds.password)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, successStyle.Render("Signed up as "+sess.Email))
				return nil
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func loginCmd(opts *globalOptions) *cobra.Command {
	creds := &credentialFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := creds.resolve(); err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.sessions.SignIn(ctx, creds.email, creds.password)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, successStyle.Render("Signed in as "+sess.Email))
				return nil
			})
		},
	}
	creds.bind(cmd)
	return cmd
}

func logoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				if a.sessions.Current() == nil {
					fmt.Fprintln(a.out, mutedStyle.Render("Not signed in"))
					return nil
				}
				if err := a.sessions.SignOut(ctx); err != nil {
					a.logger.Warn("revoke refresh token", "err", err)
				}
				fmt.Fprintln(a.out, successStyle.Render("Signed out"))
				return nil
			})
		},
	}
}

func whoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				sess, err := a.user(ctx)
				if err != nil {
					return err
				}
				profile, err := a.identity.Profile(ctx, sess.UserID)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s %s\n", titleStyle.Render(profile.DisplayName()), mutedStyle.Render("<"+profile.Email+">"))
				return nil
			})
		},
	}
}
