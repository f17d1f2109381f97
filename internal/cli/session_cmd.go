package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// sessionCmd represents the session command group
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "VIP payment session management",
	Long:  `Maintenance operations on VIP payment sessions.`,
}

// sessionSweepCmd expires stale pending sessions immediately
var sessionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire pending payment sessions past their deadline",
	Run: func(cmd *cobra.Command, args []string) {
		if vipService == nil {
			fmt.Fprintln(os.Stderr, "Error: services not initialized")
			os.Exit(1)
		}

		expired, err := vipService.SweepExpiredSessions()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: session sweep failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Expired %d pending session(s).\n", expired)

		pruned, err := vipService.PruneExpiredAllowedSenders()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: allow-list prune failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Pruned %d expired allow-list entries.\n", pruned)
	},
}

func init() {
	sessionCmd.AddCommand(sessionSweepCmd)
}
