package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resonanceCmd)
}

var resonanceCmd = &cobra.Command{
	Use:   "resonance",
	Short: "Show local load against the network",
	Args:  cobra.NoArgs,
	RunE:  runResonance,
}

type resonanceResponse struct {
	NodeID           string  `json:"node_id"`
	CurrentLoad      float64 `json:"current_load"`
	Resonance        float64 `json:"resonance"`
	AdaptiveStrength float64 `json:"adaptive_strength"`
	PeerCount        int     `json:"peer_count"`
	Network          struct {
		AvgLoad  float64 `json:"avg_load"`
		MinLoad  float64 `json:"min_load"`
		MaxLoad  float64 `json:"max_load"`
		Variance float64 `json:"variance"`
	} `json:"network"`
}

func runResonance(cmd *cobra.Command, args []string) error {
	var r resonanceResponse
	if err := newClient().get("/resonance", &r); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Node:\t%s\n", r.NodeID)
	fmt.Fprintf(w, "Load:\t%.3f\n", r.CurrentLoad)
	fmt.Fprintf(w, "Resonance:\t%.3f\n", r.Resonance)
	fmt.Fprintf(w, "Strength:\t%.3f\n", r.AdaptiveStrength)
	fmt.Fprintf(w, "Peers:\t%d\n", r.PeerCount)
	fmt.Fprintf(w, "Network:\tavg %.3f  min %.3f  max %.3f  var %.4f\n",
		r.Network.AvgLoad, r.Network.MinLoad, r.Network.MaxLoad, r.Network.Variance)
	return w.Flush()
}
