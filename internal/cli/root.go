// Package cli implements the soma command-line interface using Cobra.
// serve runs a node; every other subcommand talks to a running node over
// its HTTP control surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://127.0.0.1:8080"

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "soma",
	Short: "soma: a self-balancing peer mesh node",
	Long: `soma runs one node of a peer mesh. Nodes exchange heartbeats and load
over websockets, learn link weights from co-firing, and nudge their load
toward the network average.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := defaultAddr
	if env := os.Getenv("SOMA_ADDR"); env != "" {
		def = env
	}
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", def, "Control surface of the node to talk to")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
