package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/rzbill/oplogd/internal/cmd/client"
	serverrun "github.com/rzbill/oplogd/internal/cmd/server"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "oplogd",
		Short:        "oplogd runtime CLI",
		Long:         "oplogd keeps a bounded replication oplog that never truncates past a prepared transaction. This CLI manages the server and basic operations.",
		SilenceUsage: true,
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start oplogd (primary, secondaries and HTTP API)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			var o serverrun.Overrides
			o.NodeName, _ = cmd.Flags().GetString("node")
			o.DataDir, _ = cmd.Flags().GetString("data-dir")
			o.Engine, _ = cmd.Flags().GetString("engine")
			o.Fsync, _ = cmd.Flags().GetString("fsync")
			o.MaxBytes, _ = cmd.Flags().GetInt64("max-bytes")
			o.TxnFormat, _ = cmd.Flags().GetString("txn-format")
			o.Secondaries, _ = cmd.Flags().GetString("secondaries")
			o.HTTPAddr, _ = cmd.Flags().GetString("http")
			o.LogLevel, _ = cmd.Flags().GetString("log-level")
			o.LogFormat, _ = cmd.Flags().GetString("log-format")

			cfg, err := serverrun.BuildConfig(configPath, o)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("OPLOGD_CONFIG"), "Config file (.yaml, .yml or .json)")
	serverStartCmd.Flags().String("node", "", "Primary node name")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("engine", "", "Storage engine: durable|inMemory")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int64("max-bytes", 0, "Configured maximum oplog size in bytes")
	serverStartCmd.Flags().String("txn-format", "", "Transaction log layout: multi|single")
	serverStartCmd.Flags().String("secondaries", "", "In-process secondaries: name[:engine],...")
	serverStartCmd.Flags().String("http", "", "HTTP listen address")
	serverStartCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: json|console")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	clientcmd.AddCommands(rootCmd, apiURL)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("OPLOGD_API"); v != "" {
		return v
	}
	return "http://127.0.0.1:8027"
}
