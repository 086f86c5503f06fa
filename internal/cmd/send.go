package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/waproxy/internal/client"
	"github.com/Iron-Ham/waproxy/internal/tools"
)

var sendCmd = &cobra.Command{
	Use:   "send <recipient> <message>",
	Short: "Send a WhatsApp message through the proxy",
	Long: `Call the send_message tool of a running proxy.

The recipient is a phone number with country code and no symbols, or a chat JID.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var contactsCmd = &cobra.Command{
	Use:   "contacts <query>",
	Short: "Search the bridge's contacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runContacts,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(contactsCmd)
	addClientFlags(sendCmd)
	addClientFlags(contactsCmd)
	sendCmd.Flags().String("prefix", client.DefaultToolPrefix, "tool path prefix (/tool, /api/tool or /mcp/tool)")
}

// toolResult is the answer of send_message and of failed tool calls.
type toolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func runSend(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	raw, err := newClient(cmd).CallTool(cmd.Context(), prefix, tools.ToolSendMessage, map[string]string{
		"recipient": args[0],
		"message":   args[1],
	})
	if err != nil {
		return err
	}

	var res toolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("unexpected tool response %s: %w", raw, err)
	}
	if !res.Success {
		return fmt.Errorf("send failed: %s", res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(res.Message))
	return nil
}

func runContacts(cmd *cobra.Command, args []string) error {
	raw, err := newClient(cmd).CallTool(cmd.Context(), "", tools.ToolSearchContacts, map[string]string{"query": args[0]})
	if err != nil {
		return err
	}

	// Failures come back as {"success":false,...}; results are bridge JSON.
	var res toolResult
	if json.Unmarshal(raw, &res) == nil && !res.Success && res.Message != "" {
		return fmt.Errorf("contact search failed: %s", res.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}
