package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the bridge",
	Long:  `Ask a running proxy to stop the bridge and start it again. A new QR code may be needed afterwards.`,
	Args:  cobra.NoArgs,
	RunE:  runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
	addClientFlags(restartCmd)
}

func runRestart(cmd *cobra.Command, args []string) error {
	st, err := newClient(cmd).Restart(cmd.Context())
	if err != nil {
		return err
	}
	if st.Status == "error" {
		return fmt.Errorf("%s", st.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), stateStyle(st.Status).Render(st.Message))
	return nil
}
