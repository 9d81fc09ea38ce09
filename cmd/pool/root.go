package pool

import (
	"context"
	"github.com/ValentinKolb/dConn/cmd/util"
	"github.com/ValentinKolb/dConn/rpc/connection"
	"github.com/spf13/cobra"
)

var (
	rpcPool *connection.Pool

	// PoolCommands represents the pool command group
	PoolCommands = &cobra.Command{
		Use:   "pool",
		Short: "Open a connection pool against a server and use it",
		Long: util.WrapString(`Opens a connection pool against the server given by --url, runs the subcommand and disconnects the pool again.
All flags can be set via environment variables (DCONN_<flag>, e.g. DCONN_POOL_SIZE=4).`),
		PersistentPreRunE:  setupPool,
		PersistentPostRunE: teardownPool,
	}
)

func init() {
	// Add the pool and channel flags to the pool command
	util.SetupPoolFlags(PoolCommands)

	// Add subcommands
	PoolCommands.AddCommand(pingCmd)
	PoolCommands.AddCommand(execCmd)
	PoolCommands.AddCommand(adminCmd)
	PoolCommands.AddCommand(statsCmd)
	PoolCommands.AddCommand(perfTestCmd)
}

// setupPool creates and connects the pool
func setupPool(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	if err := util.InitLogging(); err != nil {
		return err
	}

	factory, config, err := util.GetConnectionFactory()
	if err != nil {
		return err
	}

	kind, err := util.GetKind()
	if err != nil {
		return err
	}
	// admin commands need admin connections
	if cmd == adminCmd {
		kind = connection.KindAdmin
	}

	rpcPool, err = factory.CreatePool(util.GetURL(), kind, config)
	if err != nil {
		return err
	}

	rpcPool.SetExceptionListener(connection.ExceptionListenerFunc(func(p *connection.Pool, err error) {
		util.Logger.Errorf("pool %s torn down: %v", p.Name(), err)
	}))

	if err := rpcPool.Connect(context.Background()); err != nil {
		_ = rpcPool.Stop()
		return err
	}
	return nil
}

// teardownPool disconnects the pool after the subcommand ran
func teardownPool(_ *cobra.Command, _ []string) error {
	if rpcPool == nil {
		return nil
	}
	if rpcPool.State() != connection.StateConnected {
		return rpcPool.Stop()
	}
	return rpcPool.Disconnect()
}
