package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	topologyCmd.Flags().IntVarP(&topologyN, "count", "n", 10, "Number of links to show")
	bestCmd.Flags().Float64Var(&bestIntent, "intent", 1.0, "Intent match factor")
	rootCmd.AddCommand(linksCmd, topologyCmd, tuneCmd, fireCmd, bestCmd)
}

var (
	topologyN  int
	bestIntent float64
)

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Show every learned link weight",
	Args:  cobra.NoArgs,
	RunE:  runLinks,
}

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Show the strongest links by score",
	Args:  cobra.NoArgs,
	RunE:  runTopology,
}

var tuneCmd = &cobra.Command{
	Use:   "tune PEER_ID WEIGHT",
	Short: "Set a link weight by hand",
	Args:  cobra.ExactArgs(2),
	RunE:  runTune,
}

var fireCmd = &cobra.Command{
	Use:   "fire",
	Short: "Broadcast a fire event to connected peers",
	Args:  cobra.NoArgs,
	RunE:  runFire,
}

var bestCmd = &cobra.Command{
	Use:   "best",
	Short: "Pick the best connected peer to route to",
	Args:  cobra.NoArgs,
	RunE:  runBest,
}

type linkRow struct {
	PeerID  string  `json:"peer_id"`
	Weight  float64 `json:"weight"`
	Quality float64 `json:"health_quality"`
	Score   float64 `json:"score"`
}

type linksResponse struct {
	NodeID   string    `json:"node_id"`
	Links    []linkRow `json:"links"`
	TopLinks []linkRow `json:"top_links"`
	Count    int       `json:"count"`
}

func runLinks(cmd *cobra.Command, args []string) error {
	var resp linksResponse
	if err := newClient().get("/mesh/links", &resp); err != nil {
		return err
	}
	return printLinks(cmd.OutOrStdout(), resp.Links)
}

func runTopology(cmd *cobra.Command, args []string) error {
	var resp linksResponse
	if err := newClient().get(fmt.Sprintf("/mesh/topology?n=%d", topologyN), &resp); err != nil {
		return err
	}
	return printLinks(cmd.OutOrStdout(), resp.TopLinks)
}

func printLinks(out io.Writer, links []linkRow) error {
	if len(links) == 0 {
		fmt.Fprintln(out, "No links yet.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tWEIGHT\tQUALITY\tSCORE")
	for _, l := range links {
		fmt.Fprintf(w, "%s\t%.3f\t%.2f\t%.3f\n", l.PeerID, l.Weight, l.Quality, l.Score)
	}
	return w.Flush()
}

func runTune(cmd *cobra.Command, args []string) error {
	weight, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("weight %q: %w", args[1], err)
	}
	var resp struct {
		NewWeight float64 `json:"new_weight"`
	}
	body := map[string]any{"peer_id": args[0], "weight": weight}
	if err := newClient().post("/mesh/links/tune", body, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s weight = %.3f\n", args[0], resp.NewWeight)
	return nil
}

func runFire(cmd *cobra.Command, args []string) error {
	var resp struct {
		Sent int `json:"sent"`
	}
	if err := newClient().post("/mesh/fire", nil, &resp); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fired to %d peers\n", resp.Sent)
	return nil
}

func runBest(cmd *cobra.Command, args []string) error {
	var resp struct {
		PeerID string `json:"peer_id"`
	}
	path := "/mesh/best?intent=" + strconv.FormatFloat(bestIntent, 'f', -1, 64)
	if err := newClient().get(path, &resp); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.PeerID)
	return nil
}
