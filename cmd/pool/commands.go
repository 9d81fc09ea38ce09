package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/connection"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping [count]",
		Short: "Sends keep-alive pings and echo requests and prints the round trip time",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 4
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("count must be a positive number: %s", args[0])
				}
				count = n
			}

			token := connection.NewToken()
			ctx := cmd.Context()
			for i := 0; i < count; i++ {
				start := time.Now()
				err := withConnection(ctx, token, func(conn *connection.Connection) error {
					if err := conn.Ping(); err != nil {
						return err
					}
					_, err := conn.Execute(ctx, common.NewRequest("echo", []byte("ping")))
					return err
				})
				if err != nil {
					return err
				}
				fmt.Printf("reply from %s: seq=%d time=%s\n", rpcPool.Name(), i, time.Since(start))
			}
			return nil
		},
	}
	execCmd = &cobra.Command{
		Use:   "exec [command] [payload]",
		Short: "Executes a request and prints the reply payload",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			}
			ctx := cmd.Context()
			return withConnection(ctx, connection.NewToken(), func(conn *connection.Connection) error {
				reply, err := conn.Execute(ctx, common.NewRequest(args[0], payload))
				if err != nil {
					return err
				}
				fmt.Println(string(reply.Payload))
				return nil
			})
		},
	}
	adminCmd = &cobra.Command{
		Use:   "admin [command...]",
		Short: "Runs an admin command (sessions, terminate <id> [reason], ping-all)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withConnection(ctx, connection.NewToken(), func(conn *connection.Connection) error {
				reply, err := conn.Admin(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				var out bytes.Buffer
				if json.Indent(&out, reply.Payload, "", "  ") == nil {
					fmt.Println(out.String())
				} else {
					fmt.Println(string(reply.Payload))
				}
				return nil
			})
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints the pool accounting and its connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printStats()
			for _, conn := range rpcPool.Connections() {
				info := conn.Info()
				fmt.Printf("  %-30s %-12s session=%d refs=%d endpoint=%s\n",
					conn.String(), info.State, info.SessionID, info.Refs, info.Endpoint)
			}
			return nil
		},
	}
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// withConnection reserves a connection for token, runs fn and releases it again
func withConnection(ctx context.Context, token connection.Token, fn func(conn *connection.Connection) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := rpcPool.Acquire(ctx, token)
	if err != nil {
		return err
	}
	defer func() {
		if err := rpcPool.Release(token, conn); err != nil {
			fmt.Fprintf(os.Stderr, "failed to release %s: %v\n", conn, err)
		}
	}()
	return fn(conn)
}

// printStats prints the pool accounting and the per pool metrics registry
func printStats() {
	stats := rpcPool.Stats()
	fmt.Printf("Pool %s\n", rpcPool.Name())
	fmt.Printf("  %-22s: %s\n", "State", stats.State)
	fmt.Printf("  %-22s: %d\n", "Size", stats.Size)
	fmt.Printf("  %-22s: %d\n", "Available", stats.Available)
	fmt.Printf("  %-22s: %d\n", "Reserved", stats.Reserved)
	fmt.Printf("  %-22s: %d\n", "Bound Tokens", stats.Bound)
	fmt.Printf("  %-22s: %d\n", "Waiting", stats.Waiting)
	fmt.Println()
	gometrics.WriteOnce(rpcPool.Metrics(), os.Stdout)
}
