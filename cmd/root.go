package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/livestream/internal/ui"
	"github.com/BioHazard786/livestream/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagDomain    string
	flagBackend   string
	flagStore     string
	flagBroker    string
	flagNamespace string
	flagSTUN      string
	flagTURN      string
	flagTURNUser  string
	flagTURNPass  string
	flagRelay     bool
	flagPlain     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "livestream",
	Short: "Peer-to-peer live video over WebRTC with a shared signaling store",
	Long: `livestream sets up a direct WebRTC video session between two peers.
One side creates a room and shares its id, the other joins it. Offers, answers
and ICE candidates travel through a signaling store: the bundled websocket
server (livestream serve) or any MQTT broker.`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Plain = flagPlain
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so sessions can leave their room before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagDomain, "domain", "d", "", "Store server domain, also used for room links")
	pf.StringVar(&flagBackend, "backend", "", "Signaling store backend: ws or mqtt")
	pf.StringVar(&flagStore, "store", "", "Store server websocket URL (overrides --domain)")
	pf.StringVar(&flagBroker, "broker", "", "MQTT broker URL")
	pf.StringVar(&flagNamespace, "namespace", "", "Root path for rooms in the store")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN servers, comma separated")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	pf.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	pf.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	pf.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	pf.BoolVar(&flagPlain, "plain", false, "Plain output without colors or live view")
}
