package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

//go:generate go tool swag init -g main.go -o api_specs --outputTypes json,yaml

// @title			TaskFlow realtime API
// @version		1.0
// @description	Realtime collaboration layer: WebSocket rooms plus the REST mutations that feed them.
// @BasePath		/
func main() {
	defer zap.L().Sync()

	rootCmd := &cobra.Command{
		Use:     "taskflow",
		Short:   "TaskFlow realtime collaboration server",
		Version: Version,
		// bare invocation runs the server
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
