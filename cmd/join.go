package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/BioHazard786/livestream/internal/errs"
	"github.com/BioHazard786/livestream/internal/negotiation"
	"github.com/BioHazard786/livestream/internal/ui"
	"github.com/spf13/cobra"
)

var joinOpts liveOptions

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j", "watch"},
	Short:   "Join an existing live room",
	Long: `Join a room created by another peer and answer its offer.

Examples:
  livestream join 3f9a1c2e
  livestream join https://live.example.com/r/3f9a1c2e
  livestream join 3f9a1c2e --record stream.ivf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return runLive(cmd.Context(), negotiation.Joiner, roomID, joinOpts)
	},
}

// parseRoomInput accepts a bare room id or a room link.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errs.Wrap("parse room", errs.ErrInvalidRoomID, "room ID cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		if !ui.Plain {
			ui.PrintSuccessf("Extracted room ID: %s", roomID)
		}
		return roomID, nil
	}
	return input, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", errs.New("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	return "", errs.Wrap("parse room", errs.ErrInvalidRoomID, fmt.Sprintf("no room ID in URL %s", urlStr))
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addLiveFlags(joinCmd, &joinOpts)
}
