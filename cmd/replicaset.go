package cmd

import (
	"context"
	"fmt"

	"github.com/clusterctl/core/internal/accounts"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var replicaSetCmd = &cobra.Command{
	Use:   "replicaset",
	Short: "Manage ReplicaSet topologies (async/semisync replication)",
}

var replicaSetCreateCmd = &cobra.Command{
	Use:          "create <replicaset-id> <seed-host:port>",
	Short:        "Bootstrap a new ReplicaSet from a standalone instance",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		replicaSetID, target := args[0], args[1]

		cfg := connectionConfigFromFlags()
		host, port, err := splitHostPort(target)
		if err != nil {
			return err
		}
		cfg.Host, cfg.Port = host, port

		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to seed instance: %w", err)
		}
		defer db.Close()

		info, err := topology.Detect(db, viper.GetBool("verbose"))
		if err != nil {
			return fmt.Errorf("detecting seed instance topology: %w", err)
		}
		if info.Type != topology.Standalone {
			return fmt.Errorf("seed instance is not standalone (detected %s); createReplicaSet requires a clean instance", info.Type)
		}

		serverID, err := readServerID(db)
		if err != nil {
			return err
		}

		ctx := context.Background()
		store := metadata.NewStore(db)
		tx, err := store.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertTopology(ctx, metadata.TopologyRow{ID: replicaSetID, Kind: metadata.KindReplicaSet, Name: replicaSetID}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.InsertInstance(ctx, metadata.InstanceRow{
			UUID:       uuid.NewString(),
			TopologyID: replicaSetID,
			Host:       host,
			Port:       port,
			ServerID:   serverID,
			Version:    info.Version.String(),
			Role:       metadata.RoleReplicaSetPrimary,
		}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		fmt.Printf("ReplicaSet %q created, seeded from %s\n", replicaSetID, target)
		return nil
	},
}

var replicaSetAddInstanceCmd = &cobra.Command{
	Use:          "add-instance <replicaset-id> <host:port>",
	Short:        "Join a standalone instance to a ReplicaSet as a replica",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		replicaSetID, targetAddr := args[0], args[1]

		ctrl, closeFn, err := controllerFor(replicaSetID, metadata.KindReplicaSet)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := context.Background()
		memberCfg := connectionConfigFromFlags()
		topo, err := loadTopology(ctx, ctrl.Store, replicaSetID, memberCfg)
		if err != nil {
			return err
		}
		defer closeTopology(topo)

		host, port, err := splitHostPort(targetAddr)
		if err != nil {
			return err
		}
		targetCfg := memberCfg
		targetCfg.Host, targetCfg.Port = host, port
		targetDB, err := mysqlconn.Connect(targetCfg)
		if err != nil {
			return fmt.Errorf("connecting to target %s: %w", targetAddr, err)
		}
		defer targetDB.Close()

		serverID, err := readServerID(targetDB)
		if err != nil {
			return err
		}
		version, err := mysqlconn.GetServerVersion(targetDB)
		if err != nil {
			return err
		}

		hostPattern := viper.GetString("host-pattern")
		if hostPattern == "" {
			hostPattern = "%"
		}

		req := topology.AddMemberRequest{
			Target: topology.Instance{
				InstanceRow: metadata.InstanceRow{
					UUID:     uuid.NewString(),
					Host:     host,
					Port:     port,
					ServerID: serverID,
					Version:  version.String(),
					Role:     metadata.RoleReplicaSetReplica,
				},
				DB: targetDB,
			},
			Donors:         collectDonorSessions(topo),
			HostPattern:    hostPattern,
			AuthKind:       accounts.AuthPassword,
			RecoveryMethod: "incremental",
			DryRun:         viper.GetBool("dry-run"),
		}

		creds, err := ctrl.AddMember(ctx, req)
		if err != nil {
			return err
		}

		fmt.Printf("Instance %s added to replicaset %q\n", targetAddr, replicaSetID)
		if creds != nil {
			fmt.Printf("Recovery account: %s@%s\n", creds.User, creds.Host)
		}
		return nil
	},
}

var replicaSetRemoveInstanceCmd = &cobra.Command{
	Use:          "remove-instance <replicaset-id> <instance-uuid>",
	Short:        "Remove a replica from a ReplicaSet",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		replicaSetID, memberUUID := args[0], args[1]

		ctrl, closeFn, err := controllerFor(replicaSetID, metadata.KindReplicaSet)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := context.Background()
		memberCfg := connectionConfigFromFlags()
		topo, err := loadTopology(ctx, ctrl.Store, replicaSetID, memberCfg)
		if err != nil {
			return err
		}
		defer closeTopology(topo)

		target, ok := topo.ByUUID(memberUUID)
		if !ok {
			return fmt.Errorf("no member %s in replicaset %q", memberUUID, replicaSetID)
		}

		err = ctrl.RemoveMember(ctx, topology.RemoveMemberRequest{
			UUID:   memberUUID,
			Target: target,
			Force:  viper.GetBool("force"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Instance %s removed from replicaset %q\n", target.Address(), replicaSetID)
		return nil
	},
}

var replicaSetStatusCmd = &cobra.Command{
	Use:          "status <replicaset-id>",
	Short:        "Show a ReplicaSet's current members and roles",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderTopologyStatus(args[0])
	},
}

func init() {
	replicaSetAddInstanceCmd.Flags().String("host-pattern", "%", "allowed host pattern for the recovery account")
	replicaSetAddInstanceCmd.Flags().Bool("dry-run", false, "validate without making changes")
	viper.BindPFlag("host-pattern", replicaSetAddInstanceCmd.Flags().Lookup("host-pattern"))
	viper.BindPFlag("dry-run", replicaSetAddInstanceCmd.Flags().Lookup("dry-run"))

	replicaSetRemoveInstanceCmd.Flags().Bool("force", false, "remove even if the target is unreachable")
	viper.BindPFlag("force", replicaSetRemoveInstanceCmd.Flags().Lookup("force"))

	rootCmd.AddCommand(replicaSetCmd)
	replicaSetCmd.AddCommand(replicaSetCreateCmd, replicaSetAddInstanceCmd, replicaSetRemoveInstanceCmd, replicaSetStatusCmd)
}
