// Command waproxy supervises a WhatsApp bridge and serves its HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/waproxy/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
