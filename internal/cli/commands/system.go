package commands

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ngdi-portal/portal/internal/cli/client"
	"github.com/ngdi-portal/portal/internal/cli/userconfig"
)

// NewHealthCmd creates the health command
func NewHealthCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the portal is up",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := env.baseURL()
			if err != nil {
				return err
			}

			health, err := env.newClient(base).Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			env.printf("%s: %s (version %s)\n", base, health.Status, health.Version)
			return nil
		},
	}
}

// NewSetupCmd creates the first-run setup command
func NewSetupCmd(env *Env) *cobra.Command {
	var email, name, password string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create the first admin account on a new portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || name == "" {
				return fmt.Errorf("--email and --name are required")
			}
			if password == "" {
				var err error
				if password, err = promptPassword(); err != nil {
					return err
				}
			}

			base, err := env.baseURL()
			if err != nil {
				return err
			}

			resp, err := env.newClient(base).Setup(cmd.Context(), client.SetupRequest{
				Email:    email,
				Password: password,
				Name:     name,
			})
			if err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}

			if err := env.Tokens.SaveToken(base, resp.Token); err != nil {
				return fmt.Errorf("failed to save authentication token: %w", err)
			}
			if err := userconfig.Remember(base, email); err != nil {
				env.Logger.Warn().Err(err).Msg("Failed to remember portal URL")
			}

			env.printf("✓ Admin %s created and signed in\n", resp.User.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&name, "name", "", "Admin display name")
	cmd.Flags().StringVar(&password, "password", "", "Admin password (will prompt if not provided)")

	return cmd
}

// NewDashCmd creates the dash command
func NewDashCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Open the portal dashboard in a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := env.baseURL()
			if err != nil {
				return err
			}

			dashboardURL := base + "/dashboard"
			env.printf("URL: %s\n", dashboardURL)

			if err := openBrowser(dashboardURL); err != nil {
				return fmt.Errorf("failed to open browser: %w\nPlease visit: %s", err, dashboardURL)
			}
			return nil
		},
	}
}

// openBrowser opens the URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
