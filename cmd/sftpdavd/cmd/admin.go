package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/materials-commons/sftpdav/pkg/adminclient"
	"github.com/spf13/cobra"
)

var (
	adminAddr    string
	adminTimeout time.Duration
	logLevel     string
	logOutput    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session pool of a running sftpdavd",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := adminclient.New(adminAddr, adminTimeout).PoolStatus(cmdContext(cmd))
		if err != nil {
			return err
		}

		return printJSON(cmd, status)
	},
}

var loggingCmd = &cobra.Command{
	Use:   "logging",
	Short: "Show or change the log level and output of a running sftpdavd",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := adminclient.New(adminAddr, adminTimeout).SetLogging(cmdContext(cmd), logLevel, logOutput)
		if err != nil {
			return err
		}

		return printJSON(cmd, state)
	},
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, loggingCmd} {
		c.Flags().StringVarP(&adminAddr, "admin", "a", "localhost:8081", "Admin API address of the running server")
		c.Flags().DurationVar(&adminTimeout, "timeout", 10*time.Second, "Request timeout")
		rootCmd.AddCommand(c)
	}

	loggingCmd.Flags().StringVar(&logLevel, "level", "", "New log level (debug, info, warn, error, fatal)")
	loggingCmd.Flags().StringVar(&logOutput, "output", "", "New log output: stdout, stderr or a file path on the server")
}
