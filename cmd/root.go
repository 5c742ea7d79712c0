package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/arbor/cmd/lock"
	"github.com/jacentio/arbor/cmd/resource"
	"github.com/jacentio/arbor/cmd/table"
	"github.com/jacentio/arbor/cmd/util"
)

// Version is the arbor release version
const Version = "0.1.0"

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "arbor",
		Short: "Distributed locks and hierarchical resources on DynamoDB",
		Long: `arbor coordinates resources stored in DynamoDB.

It provides named locks over sets of resource ids, with a watchdog that
releases a lock held longer than its timeout, and transactional create,
update and delete of resources arranged in parent/child paths.`,
	}

	// versionCmd represents the version command
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("arbor v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(table.TableCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(resource.ResourceCommands)

	RootCmd.PersistentFlags().String("config", "", util.WrapString("Config file describing the resource paths (yaml, json or toml)"))
	RootCmd.PersistentFlags().String("log-level", "info", util.WrapString("Log level: debug, info, warn or error"))
	RootCmd.PersistentFlags().String("log-format", "text", util.WrapString("Log format: text or json"))
	RootCmd.PersistentFlags().Bool("metrics", false, util.WrapString("Print metrics in Prometheus text format to stderr on exit"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := RootCmd.Execute()
	if viper.GetBool("metrics") {
		util.WriteMetrics(os.Stderr)
	}
	if err != nil {
		os.Exit(1)
	}
}
