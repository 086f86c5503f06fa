package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the bridge log",
	Long: `Print the end of the bridge log from a running proxy.

Use --follow to keep streaming new log output over the proxy's websocket.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	addClientFlags(logsCmd)
	logsCmd.Flags().IntP("tail", "n", 0, "only show the last N lines (0 shows everything the proxy returns)")
	logsCmd.Flags().BoolP("follow", "f", false, "stream new log output")
}

func runLogs(cmd *cobra.Command, args []string) error {
	tail, _ := cmd.Flags().GetInt("tail")
	follow, _ := cmd.Flags().GetBool("follow")
	c := newClient(cmd)

	if follow {
		return streamLogs(cmd, c.StreamURL())
	}

	logs, err := c.Logs(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), lastLines(logs, tail))
	return nil
}

// lastLines returns the last n lines of s; n <= 0 returns s unchanged.
func lastLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func streamLogs(cmd *cobra.Command, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), url, nil)
	if err != nil {
		return fmt.Errorf("failed to open log stream at %s: %w", url, err)
	}
	defer conn.Close()

	go func() {
		<-cmd.Context().Done()
		_ = conn.Close()
	}()

	out := cmd.OutOrStdout()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if cmd.Context().Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("log stream closed: %w", err)
		}
		if _, err := io.WriteString(out, string(data)); err != nil {
			return err
		}
	}
}
