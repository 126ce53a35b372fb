package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soma-network/soma/internal/domain"
)

func init() {
	tracesCmd.Flags().IntVar(&tracesLimit, "limit", 20, "Number of traces to show")
	weightsCmd.AddCommand(weightsSaveCmd, weightsRestoreCmd)
	rootCmd.AddCommand(weightsCmd, tracesCmd)
}

var tracesLimit int

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Save or restore link weight snapshots",
}

var weightsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store the current link weights",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWeights(cmd, "save")
	},
}

var weightsRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Apply the stored link weights",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWeights(cmd, "restore")
	},
}

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "List recent causal traces",
	Args:  cobra.NoArgs,
	RunE:  runTraces,
}

func runWeights(cmd *cobra.Command, action string) error {
	var res struct {
		Entries int `json:"entries"`
		Applied int `json:"applied"`
		Pending int `json:"pending"`
	}
	if err := newClient().post("/mesh/weights/"+action, nil, &res); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if action == "save" {
		fmt.Fprintf(out, "Saved %d weights\n", res.Entries)
		return nil
	}
	fmt.Fprintf(out, "Restored %d weights (%d applied, %d pending)\n", res.Entries, res.Applied, res.Pending)
	return nil
}

func runTraces(cmd *cobra.Command, args []string) error {
	var resp struct {
		Traces []domain.CausalTrace `json:"traces"`
	}
	if err := newClient().get(fmt.Sprintf("/mesh/traces?limit=%d", tracesLimit), &resp); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Traces) == 0 {
		fmt.Fprintln(out, "No traces recorded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCAUSE\tEFFECT\tDELTA\tTIME")
	for _, t := range resp.Traces {
		fmt.Fprintf(w, "%d\t%s\t%s\t%+.3f\t%s\n",
			t.ID, t.Cause, t.Effect, t.Delta,
			time.UnixMilli(t.TimestampMs).Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}
