package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dConn/cmd/pool"
	"github.com/ValentinKolb/dConn/cmd/serve"
	"github.com/ValentinKolb/dConn/cmd/util"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dconn",
		Short: "graph database client connection core",
		Long: fmt.Sprintf(`dConn (v%s)

Connection pools, fault tolerant channels and a stub frame server
for graph database clients written in Go.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dConn",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dConn v%s (protocol v%d)\n", Version, common.ProtocolVersion)
		},
	}
)

func init() {
	// Initialize viper once for all commands
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(pool.PoolCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "config"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Optional config file (yaml, json or toml) with the same keys as the flags"))

	// the config file is read before any command binds its flags
	_ = viper.BindPFlag(key, RootCmd.PersistentFlags().Lookup(key))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
