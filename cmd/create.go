package cmd

import (
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/spf13/cobra"
)

var createOpts liveOptions

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c", "host"},
	Short:   "Create a live room and wait for a peer",
	Long: `Create a new room, publish an offer and wait for a peer to join.

Examples:
  livestream create --media clip.ivf --copy
  livestream create --backend mqtt --broker tcp://broker.example.com:1883
  livestream create --record incoming.ivf --stall-timeout 5m`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLive(cmd.Context(), negotiation.Initiator, "", createOpts)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	addLiveFlags(createCmd, &createOpts)
	createCmd.Flags().BoolVarP(&createOpts.copyID, "copy", "c", false, "Copy the room ID to the clipboard")
}
