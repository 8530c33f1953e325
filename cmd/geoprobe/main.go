package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "geoprobe",
		Short:         "Query AI chat platforms and track which brands their answers recommend.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newQueryCommand(&configPath))
	root.AddCommand(newCrawlCommand(&configPath))
	root.AddCommand(newAccountsCommand(&configPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
