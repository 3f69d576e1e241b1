package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/sambigeara/dgram/pkg/workspace"
)

const (
	defaultCount  = 1
	defaultSize   = 64
	defaultJitter = 0.1
)

func main() {
	defaultDir, err := workspace.DefaultDir()
	if err != nil {
		log.Fatalf("unable to resolve default dir: %v", err)
	}

	rootCmd := &cobra.Command{Use: "dgram", SilenceUsage: true}

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send datagrams through the non-blocking send channel",
		RunE:  runSend,
	}
	sendCmd.Flags().String("to", "", "Destination host:port")
	sendCmd.Flags().Int("count", defaultCount, "Number of datagrams to send")
	sendCmd.Flags().Int("size", defaultSize, "Payload size in bytes")
	sendCmd.Flags().Bool("offer", false, "Use single-attempt offers instead of waiting sends")
	sendCmd.Flags().Duration("interval", 0, "Pause between datagrams")
	sendCmd.Flags().Float64("jitter", defaultJitter, "Fraction of the interval to randomise")
	sendCmd.Flags().String("dir", defaultDir, "Directory holding config.yaml")
	_ = sendCmd.MarkFlagRequired("to")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().String("dir", defaultDir, "Directory holding config.yaml")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(sendCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to execute command: %q", err)
	}
}
