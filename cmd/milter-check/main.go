// Command milter-check can be used to send test data to milters.
//
// The message (header and body) gets read from stdin.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		flags   = defaultConfig()
	)
	cmd := &cobra.Command{
		Use:   "milter-check",
		Short: "Send a test message to a milter and print its replies",
		Long: `milter-check acts as an MTA: it connects to a milter, simulates one SMTP
transaction with the message read from stdin and prints every action the milter returns.

Settings can be loaded from a YAML file with --config, flags override the file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			applyFlags(cmd, cfg, flags)
			if cfg.Address == "" {
				return fmt.Errorf("no milter address given")
			}
			return check(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfgFile, "config", "", "YAML file with settings")
	f.StringVar(&flags.Network, "transport", flags.Network, "Transport to use for milter connection, One of 'tcp', 'unix', 'tcp4' or 'tcp6'")
	f.StringVar(&flags.Address, "address", flags.Address, "Transport address, path for 'unix', address:port for 'tcp'")
	f.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "Connect, read and write timeout")
	f.StringVar(&flags.Hostname, "hostname", flags.Hostname, "Value to send in CONNECT message")
	f.StringVar(&flags.Family, "family", flags.Family, "Protocol family to send in CONNECT message")
	f.Uint16Var(&flags.Port, "port", flags.Port, "Port to send in CONNECT message")
	f.StringVar(&flags.ConnAddr, "conn-addr", flags.ConnAddr, "Connection address to send in CONNECT message")
	f.StringVar(&flags.Helo, "helo", flags.Helo, "Value to send in HELO message")
	f.StringVar(&flags.From, "from", flags.From, "Value to send in MAIL message")
	f.StringSliceVar(&flags.Rcpt, "rcpt", flags.Rcpt, "Comma-separated list of values for RCPT messages")
	f.Uint32Var(&flags.Actions, "actions", flags.Actions, "Bitmask value of actions we allow")
	f.Uint32Var(&flags.Disabled, "disabled-msgs", flags.Disabled, "Bitmask of disabled protocol messages")
	f.StringToStringVar(&flags.Macros, "macro", nil, "Macro values to send, name=value")
	return cmd
}

// applyFlags copies every flag the user set from flags to cfg.
func applyFlags(cmd *cobra.Command, cfg, flags *config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("transport", func() { cfg.Network = flags.Network })
	set("address", func() { cfg.Address = flags.Address })
	set("timeout", func() { cfg.Timeout = flags.Timeout })
	set("hostname", func() { cfg.Hostname = flags.Hostname })
	set("family", func() { cfg.Family = flags.Family })
	set("port", func() { cfg.Port = flags.Port })
	set("conn-addr", func() { cfg.ConnAddr = flags.ConnAddr })
	set("helo", func() { cfg.Helo = flags.Helo })
	set("from", func() { cfg.From = flags.From })
	set("rcpt", func() { cfg.Rcpt = flags.Rcpt })
	set("actions", func() { cfg.Actions = flags.Actions })
	set("disabled-msgs", func() { cfg.Disabled = flags.Disabled })
	set("macro", func() {
		if cfg.Macros == nil {
			cfg.Macros = make(map[string]string)
		}
		for k, v := range flags.Macros {
			cfg.Macros[k] = v
		}
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
