package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/waproxy/internal/client"
	"github.com/Iron-Ham/waproxy/internal/tools"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check a deployed proxy end to end",
	Long: `Run a quick check against a running proxy: fetch the status and the QR state,
then, if the bridge is authenticated and --phone is given, send a test message
through every tool path (/tool, /api/tool and /mcp/tool).

Exits with an error if any check fails.`,
	Args: cobra.NoArgs,
	RunE: runSmoke,
}

// toolPrefixes are the tool paths served by the proxy.
var toolPrefixes = []string{"/tool", "/mcp/tool", "/api/tool"}

func init() {
	rootCmd.AddCommand(smokeCmd)
	addClientFlags(smokeCmd)
	smokeCmd.Flags().String("phone", "", "recipient for the test message; sending is skipped when empty")
	smokeCmd.Flags().String("message", "Test message from API check script", "text of the test message")
}

type smokeCheck struct {
	name string
	err  error
	note string
}

func runSmoke(cmd *cobra.Command, args []string) error {
	phone, _ := cmd.Flags().GetString("phone")
	message, _ := cmd.Flags().GetString("message")

	checks := smoke(cmd.Context(), newClient(cmd), phone, message)
	return reportSmoke(cmd.OutOrStdout(), checks)
}

func smoke(ctx context.Context, c *client.Client, phone, message string) []smokeCheck {
	var checks []smokeCheck

	st, err := c.Status(ctx)
	note := ""
	if err == nil {
		note = fmt.Sprintf("bridge %s, up %s", st.BridgeState, st.Uptime)
	}
	checks = append(checks, smokeCheck{name: "GET /", err: err, note: note})
	if err != nil {
		return checks
	}

	qr, err := c.QR(ctx)
	if err == nil {
		note = qr.Status
		if qr.Status == "error" {
			err = fmt.Errorf("%s", qr.Message)
		}
	}
	checks = append(checks, smokeCheck{name: "GET /qr", err: err, note: note})

	if phone == "" || !st.Authenticated {
		return checks
	}

	for _, prefix := range toolPrefixes {
		name := "POST " + prefix + "/" + tools.ToolSendMessage
		raw, err := c.CallTool(ctx, prefix, tools.ToolSendMessage, map[string]string{
			"recipient": phone,
			"message":   message,
		})
		var res toolResult
		if err == nil {
			if err = json.Unmarshal(raw, &res); err == nil && !res.Success {
				err = fmt.Errorf("%s", res.Message)
			}
		}
		checks = append(checks, smokeCheck{name: name, err: err, note: res.Message})
	}
	return checks
}

func reportSmoke(w io.Writer, checks []smokeCheck) error {
	passed := 0
	for _, c := range checks {
		if c.err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", errStyle.Render("FAIL"), c.name, c.err)
			continue
		}
		passed++
		fmt.Fprintf(w, "%s %s %s\n", okStyle.Render("PASS"), c.name, mutedStyle.Render(c.note))
	}
	fmt.Fprintf(w, "\n%d/%d checks passed\n", passed, len(checks))
	if passed != len(checks) {
		return fmt.Errorf("%d smoke checks failed", len(checks)-passed)
	}
	return nil
}
