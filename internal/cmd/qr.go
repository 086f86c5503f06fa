package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/waproxy/internal/client"
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Show the pairing QR code",
	Long: `Fetch the pairing state from a running proxy. On a terminal the QR code is
drawn so it can be scanned with WhatsApp; otherwise the JSON answer is printed.

With --wait, keep polling until a QR code is available or the bridge is paired.`,
	Args: cobra.NoArgs,
	RunE: runQR,
}

func init() {
	rootCmd.AddCommand(qrCmd)
	addClientFlags(qrCmd)
	qrCmd.Flags().Bool("wait", false, "poll until a QR code is ready or the bridge is authenticated")
	qrCmd.Flags().Duration("interval", 2*time.Second, "poll interval used with --wait")
}

func runQR(cmd *cobra.Command, args []string) error {
	c := newClient(cmd)
	wait, _ := cmd.Flags().GetBool("wait")
	interval, _ := cmd.Flags().GetDuration("interval")

	for {
		st, err := c.QR(cmd.Context())
		if err != nil {
			return err
		}
		if !wait || st.Status == "qr_ready" || st.Status == "authenticated" || st.Status == "error" {
			return printQR(cmd.OutOrStdout(), st, isTerminal(cmd.OutOrStdout()))
		}
		fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(st.Message))

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(interval):
		}
	}
}

func printQR(w io.Writer, st client.QRStatus, tty bool) error {
	if !tty {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Fprintln(w, stateStyle(st.Status).Render(st.Message))
	if st.QR != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, st.QR)
		fmt.Fprintln(w)
		fmt.Fprintln(w, mutedStyle.Render("Generated "+st.TimeSinceStart+" after the bridge started"))
	}
	if st.RestartURL != "" {
		fmt.Fprintln(w, mutedStyle.Render("Run 'waproxy restart' to restart the bridge"))
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
