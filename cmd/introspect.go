package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/clusterctl/core/internal/lock"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
	"github.com/spf13/cobra"
)

var rejoinInstanceCmd = &cobra.Command{
	Use:          "rejoin-instance <topology-id> <host:port>",
	Short:        "Reconnect a member whose replication channel stopped, reusing its existing account",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		topologyID, targetAddr := args[0], args[1]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		row, err := store.GetTopology(context.Background(), topologyID)
		if err != nil {
			return err
		}

		host, port, err := splitHostPort(targetAddr)
		if err != nil {
			return err
		}
		targetCfg := cfg
		targetCfg.Host, targetCfg.Port = host, port
		targetDB, err := mysqlconn.Connect(targetCfg)
		if err != nil {
			return fmt.Errorf("connecting to target %s: %w", targetAddr, err)
		}
		defer targetDB.Close()

		ctx := context.Background()
		instances, err := store.GetAllInstances(ctx, topologyID, true)
		if err != nil {
			return err
		}
		var target topology.Instance
		found := false
		for _, r := range instances {
			if r.Host == host && r.Port == port {
				target = topology.Instance{InstanceRow: r, DB: targetDB}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no catalog row for %s in topology %q; use add-instance instead", targetAddr, topologyID)
		}

		ctrl := topology.NewController(store, lock.NewService(db), db, topologyID, row.Kind)
		if err := ctrl.RejoinMember(ctx, topology.RejoinRequest{Target: target}); err != nil {
			return err
		}

		fmt.Printf("Instance %s rejoined topology %q\n", targetAddr, topologyID)
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:          "describe <topology-id>",
	Short:        "Print every member's catalog row in full (§6.3)",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		topologyID := args[0]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		locks := lock.NewService(db)
		ctx := context.Background()

		heldLock, err := locks.Acquire(ctx, topologyID, lock.Shared, lock.WaitForever)
		if err != nil {
			return err
		}
		defer heldLock.Release(ctx)

		row, err := store.GetTopology(ctx, topologyID)
		if err != nil {
			return err
		}
		instances, err := store.GetAllInstances(ctx, topologyID, true)
		if err != nil {
			return err
		}

		fmt.Printf("Topology %s (%s) %q\n", row.ID, row.Kind, row.Name)
		for _, inst := range instances {
			addr := inst.Host
			if inst.Socket != "" {
				addr = inst.Socket
			} else if inst.Port != 0 {
				addr = fmt.Sprintf("%s:%d", inst.Host, inst.Port)
			}
			fmt.Printf("  %-36s %-22s %-28s server_id=%-10d version=%-10s invalidated=%v\n",
				inst.UUID, addr, inst.Role, inst.ServerID, inst.Version, inst.Invalidated)
		}
		return nil
	},
}

var optionsCmd = &cobra.Command{
	Use:          "options <topology-id>",
	Short:        "Print a topology's recorded attribute-bag options (§6.3)",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		topologyID := args[0]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		locks := lock.NewService(db)
		ctx := context.Background()

		heldLock, err := locks.Acquire(ctx, topologyID, lock.Shared, lock.WaitForever)
		if err != nil {
			return err
		}
		defer heldLock.Release(ctx)

		known := []string{
			metadata.AttrReplicationAllowedHost,
			metadata.AttrMemberAuthType,
			metadata.AttrCertIssuer,
			metadata.AttrClusterSetReplicationSSL,
			metadata.AttrClusterSetPrimaryCluster,
			metadata.AttrClusterSetMemberClusters,
			metadata.AttrInvalidated,
		}
		for _, key := range known {
			value, ok, err := store.QueryClusterAttribute(ctx, topologyID, key)
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("%s = %s\n", key, value)
			}
		}
		return nil
	},
}

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Read router registration metadata (evaluator logic stays out of scope)",
}

var routerListCmd = &cobra.Command{
	Use:          "list <topology-id>",
	Short:        "List every router registered against a topology (listRouters)",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		topologyID := args[0]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		routers, err := store.ListRouters(context.Background(), topologyID)
		if err != nil {
			return err
		}
		if len(routers) == 0 {
			fmt.Println("no routers registered")
			return nil
		}
		for _, r := range routers {
			fmt.Printf("%-36s %-22s version=%-10s last_check_in=%s\n", r.ID, r.Address, r.Version, r.LastCheckIn)
		}
		return nil
	},
}

var routerOptionsCmd = &cobra.Command{
	Use:          "options <router-id>",
	Short:        "Print a router's recorded routing options (routerOptions)",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		routerID := args[0]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		opts, err := store.RouterOptions(context.Background(), routerID)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, opts[k])
		}
		return nil
	},
}

var routingOptionsCmd = &cobra.Command{
	Use:          "routing-options <topology-id> <key> <value>",
	Short:        "Set a topology-wide routing-guideline option (routingOptions)",
	Args:         cobra.ExactArgs(3),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		topologyID, key, value := args[0], args[1], args[2]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		ctx := context.Background()
		tx, err := store.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := tx.SetRoutingOption(ctx, topologyID, key, value); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		fmt.Printf("routing option %s=%s recorded for topology %q\n", key, value, topologyID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rejoinInstanceCmd, describeCmd, optionsCmd, routerCmd)
	routerCmd.AddCommand(routerListCmd, routerOptionsCmd, routingOptionsCmd)
}
