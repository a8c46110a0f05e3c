package cmd

import (
	"fmt"

	"github.com/BioHazard786/livestream/internal/room"
	"github.com/BioHazard786/livestream/internal/ui"
	"github.com/spf13/cobra"
)

var flagCleanup bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <room-id>",
	Short: "Show what a room holds in the signaling store",
	Long: `Show the offer, answer, candidate logs and participants of a room.
With --cleanup the room is deleted when nobody is in it anymore.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		reg := room.NewRegistry(st, cfg.Namespace)
		status, err := reg.Inspect(ctx, id)
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomStatusView(roomStatus(status)))

		if flagCleanup && status.Exists {
			deleted, err := reg.DeleteRoomIfEmpty(ctx, status.ID)
			if err != nil {
				return err
			}
			if deleted {
				ui.PrintSuccessf("Room %s deleted", status.ID)
			} else {
				ui.PrintInfof("Room %s still has participants", status.ID)
			}
		}
		return nil
	},
}

func roomStatus(s room.Status) ui.RoomStatus {
	return ui.RoomStatus{
		ID:               s.ID,
		Exists:           s.Exists,
		HasOffer:         s.HasOffer,
		HasAnswer:        s.HasAnswer,
		CallerCandidates: s.CallerCandidates,
		CalleeCandidates: s.CalleeCandidates,
		Participants:     s.Participants,
	}
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&flagCleanup, "cleanup", false, "Delete the room if it has no participants")
}
