package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"testfleet/internal/app"
	"testfleet/internal/config"
)

var (
	serveDebug      bool
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the test controller",
	Long: `Starts the test controller. It activates queued tests on free machines,
supervises running environments and delivers reports.

Agents sign in over MCP at http://<server.host>:<server.port>/mcp and download
their test packages from the same server. Test descriptions dropped into the
inbox directory are submitted automatically.

Configuration is read from <config-path>/config.yaml; machine descriptions in
<config-path>/machines/*.yaml are loaded into the catalog on start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := app.NewConfig(serveDebug, serveConfigPath, GetVersion())
	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		var ce *config.ConfigurationError
		if errors.As(err, &ce) {
			fmt.Fprintln(cmd.ErrOrStderr(), ce.DetailedError())
		}
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
}
