package cli

import (
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soma-network/soma/internal/domain"
)

func init() {
	peersCmd.Flags().BoolVarP(&peersAll, "all", "a", false, "Include peers that are not alive")
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
}

var peersAll bool

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peers known to the node",
	Args:  cobra.NoArgs,
	RunE:  runPeers,
}

var registerCmd = &cobra.Command{
	Use:   "register PEER_ID URL",
	Short: "Register a reconnect target and dial it",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister PEER_ID",
	Short: "Stop reconnecting to a registered peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnregister,
}

type peersResponse struct {
	NodeID    string            `json:"node_id"`
	PeerCount int               `json:"peer_count"`
	Peers     []domain.PeerInfo `json:"peers"`
}

func runPeers(cmd *cobra.Command, args []string) error {
	path := "/peers"
	if peersAll {
		path += "?all=true"
	}
	var resp peersResponse
	if err := newClient().get(path, &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Peers) == 0 {
		fmt.Fprintf(out, "No peers. Run 'soma register <id> <url>' to add one.\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONNECTED\tALIVE\tLOAD\tQUALITY\tWEIGHT\tLAST SEEN")
	for _, p := range resp.Peers {
		fmt.Fprintf(w, "%s\t%v\t%v\t%.3f\t%.2f\t%.3f\t%s\n",
			p.ID,
			p.Connected,
			p.Alive,
			p.Load,
			p.Health.Quality,
			p.Weight,
			lastSeen(p.LastSeenMs),
		)
	}
	return w.Flush()
}

func runRegister(cmd *cobra.Command, args []string) error {
	var resp struct {
		Message string `json:"message"`
	}
	body := map[string]string{"peer_id": args[0], "url": args[1]}
	if err := newClient().post("/peers/register", body, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func runUnregister(cmd *cobra.Command, args []string) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := newClient().delete("/peers/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

func lastSeen(ms int64) string {
	if ms == 0 {
		return "never"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}
