package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/waproxy/internal/client"
	"github.com/Iron-Ham/waproxy/internal/config"
)

// defaultAddr is where client subcommands look for a running proxy.
const defaultAddr = "http://localhost:8000"

var rootCmd = &cobra.Command{
	Use:   "waproxy",
	Short: "Supervisory HTTP proxy for a WhatsApp bridge",
	Long: `waproxy runs a WhatsApp bridge as a child process, watches its log for the
pairing QR code and the authenticated marker, and exposes status, QR, log and
tool endpoints over HTTP. Tool calls are forwarded to the bridge REST API once
the bridge is paired.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/waproxy/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// .env values become environment variables before viper reads them
	_ = config.LoadDotEnv(".env")

	viper.SetEnvPrefix("WAPROXY")
	// Replace dots with underscores for nested keys in env vars
	// e.g., WAPROXY_BRIDGE_API_URL for bridge.api_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// addClientFlags registers the flags shared by commands that talk to a
// running proxy.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("addr", defaultAddr, "address of the running waproxy server")
	cmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(addr, timeout)
}
