package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/waproxy/internal/client"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running proxy",
	Long:  `Display the bridge state, uptime and pairing state reported by a running waproxy server.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	addClientFlags(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := newClient(cmd).Status(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
	return nil
}

func renderStatus(st client.Status) string {
	state := st.BridgeState
	if state == "" {
		state = "unknown"
	}
	lines := []string{
		titleStyle.Render("WhatsApp bridge"),
		row("Proxy", stateStyle(st.Status).Render(st.Status)),
		row("Bridge", stateStyle(state).Render(state)),
		row("Uptime", st.Uptime),
		row("Authenticated", yesNo(st.Authenticated)),
		row("QR generated", yesNo(st.QRGenerated)),
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
