package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/termclaw/pkg/termclaw/config"
)

// newSetupCmd creates the `termclaw setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the workspace directory, the assistant launch command and the
gateway settings. The gateway token goes into the OS keyring, not the file.

Examples:
  termclaw setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()

	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		configPath = filepath.Join(home, ".termclaw", "config.yaml")
	}

	gatewayToken := ""
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Workspace directory").
				Description("New project directories are created here").
				Value(&cfg.Workspace),
			huh.NewInput().
				Title("Assistant command").
				Description("Primary command that launches the coding assistant").
				Value(&cfg.Assistant.Command),
			huh.NewInput().
				Title("Fallback command").
				Description("Tried when the primary launch fails").
				Value(&cfg.Assistant.FallbackCommand),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable the HTTP gateway?").
				Description("Transports and scripts POST commands and callbacks to it").
				Value(&cfg.Gateway.Enabled),
			huh.NewInput().
				Title("Gateway listen address").
				Value(&cfg.Gateway.Address),
			huh.NewInput().
				Title("Gateway auth token").
				Description("Empty disables auth (loopback only!); stored in the OS keyring").
				EchoMode(huh.EchoModePassword).
				Value(&gatewayToken),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Log format").
				Options(huh.NewOptions("text", "json")...).
				Value(&cfg.Logging.Format),
			huh.NewSelect[string]().
				Title("Log level").
				Options(huh.NewOptions("info", "debug", "warn", "error")...).
				Value(&cfg.Logging.Level),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	if token := strings.TrimSpace(gatewayToken); token != "" {
		if !config.KeyringAvailable() {
			fmt.Println("No OS keyring available; writing the token to config.yaml instead.")
			cfg.Gateway.AuthToken = token
		} else if err := config.StoreGatewayToken(token); err != nil {
			fmt.Println("Could not reach the OS keyring; writing the token to config.yaml instead.")
			cfg.Gateway.AuthToken = token
		} else {
			fmt.Println("Gateway token stored in the OS keyring.")
		}
	} else if err := config.DeleteGatewayToken(); err == nil {
		// An empty answer clears a token left over from an earlier run.
		fmt.Println("Removed the previously stored gateway token.")
	}

	if err := config.Save(cfg, configPath); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println("Start the daemon with: termclaw serve")
	return nil
}
