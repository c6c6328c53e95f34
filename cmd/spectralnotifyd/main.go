// Command spectralnotifyd runs the SpectralNotify broker front-end.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spectralnotify/internal/broker/bootstrap"
)

var configFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "spectralnotifyd",
		Short: "SpectralNotify progress notification broker",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to spectralnotify.yaml (default: ./spectralnotify.yaml or $HOME/spectralnotify.yaml)")

	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker's HTTP/WebSocket front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if configFile != "" {
				v.SetConfigFile(configFile)
			}
			cfg, err := bootstrap.LoadConfig(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return bootstrap.RunServer(cmd.Context(), cfg)
		},
	}
}
