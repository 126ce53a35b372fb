package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/soma-network/soma/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveNodeID, "node-id", "", "Node id (overrides config and stored id)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Config file (default $SOMA_HOME/config.toml)")
	serveCmd.Flags().StringArrayVar(&servePeers, "peer", nil, "Reconnect target as id=ws://host:port/mesh (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost   string
	servePort   int
	serveNodeID string
	serveConfig string
	servePeers  []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a mesh node",
	Long:  `Run a mesh node. The control surface and the /mesh websocket share one listener.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	d, err := daemon.NewWithConfig(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}

// loadServeConfig reads the config file and applies flag overrides.
func loadServeConfig() (daemon.Config, error) {
	var (
		cfg daemon.Config
		err error
	)
	if serveConfig != "" {
		cfg, err = daemon.LoadConfigFile(serveConfig)
	} else {
		cfg, err = daemon.LoadConfig()
	}
	if err != nil {
		return cfg, err
	}

	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveNodeID != "" {
		cfg.Node.ID = serveNodeID
	}
	for _, s := range servePeers {
		p, err := daemon.ParsePeerFlag(s)
		if err != nil {
			return cfg, err
		}
		cfg.Mesh.Peers = append(cfg.Mesh.Peers, p)
	}
	return cfg, nil
}
