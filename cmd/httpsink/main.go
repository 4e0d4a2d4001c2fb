package main

import (
	"log"

	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.Llongfile | log.Ldate | log.Ltime | log.Lmicroseconds)

	var cfgFile string
	cmd := &cobra.Command{
		Use:   "httpsink",
		Short: "Deliver Kafka records to an HTTP endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgFile)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "Path to the YAML configuration file, environment variables prefixed HTTPSINK_ override it")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("command error: %v", err)
	}
}
