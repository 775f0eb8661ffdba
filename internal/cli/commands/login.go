package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ngdi-portal/portal/internal/authctx"
	"github.com/ngdi-portal/portal/internal/cli/userconfig"
	"github.com/ngdi-portal/portal/internal/session"
)

// NewLoginCmd creates the login command
func NewLoginCmd(env *Env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the NGDI portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, env, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set NGDI_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set NGDI_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, env *Env, email, password string) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("NGDI_EMAIL")
	}
	if password == "" {
		password = os.Getenv("NGDI_PASSWORD")
	}

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or NGDI_EMAIL env var)")
	}

	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}

	provider, base, err := env.provider()
	if err != nil {
		return err
	}
	defer provider.Teardown()

	env.printf("Signing in to %s...\n", base)

	state, err := provider.SignIn(cmd.Context(), session.Credentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := userconfig.Remember(base, email); err != nil {
		env.Logger.Warn().Err(err).Msg("Failed to remember portal URL")
	}

	env.printf("✓ Login successful!\n")
	printUser(env, state)
	return nil
}

func promptPassword() (string, error) {
	// Check if stdin is a terminal (not piped)
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or NGDI_PASSWORD env var)")
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func printUser(env *Env, state authctx.State) {
	if state.User == nil {
		return
	}
	env.printf("  User: %s\n", state.User.Email)
	env.printf("  Role: %s\n", state.User.Role.Label())
}

// NewLogoutCmd creates the logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, _, err := env.provider()
			if err != nil {
				return err
			}
			defer provider.Teardown()

			if _, err := provider.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}
			env.printf("Signed out.\n")
			return nil
		},
	}
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, base, err := env.provider()
			if err != nil {
				return err
			}
			defer provider.Teardown()

			state := provider.Mount(cmd.Context())
			if state.Status != authctx.Authenticated {
				env.printf("Not signed in to %s\n", base)
				return nil
			}

			env.printf("Signed in to %s\n", base)
			printUser(env, state)
			return nil
		},
	}
}
