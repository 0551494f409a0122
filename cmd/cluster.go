package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/clusterctl/core/internal/accounts"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/output"
	"github.com/clusterctl/core/internal/topology"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage InnoDB Cluster topologies (Group Replication)",
}

var clusterCreateCmd = &cobra.Command{
	Use:          "create <cluster-id> <seed-host:port>",
	Short:        "Bootstrap a new Cluster from a standalone instance",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID, target := args[0], args[1]

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
			return fmt.Errorf("seed instance is not standalone (detected %s); createCluster requires a clean instance", info.Type)
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
		if err := tx.InsertTopology(ctx, metadata.TopologyRow{ID: clusterID, Kind: metadata.KindCluster, Name: clusterID}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.InsertInstance(ctx, metadata.InstanceRow{
			UUID:       uuid.NewString(),
			TopologyID: clusterID,
			Host:       host,
			Port:       port,
			ServerID:   serverID,
			Version:    info.Version.String(),
			Role:       metadata.RoleClusterPrimary,
		}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		fmt.Printf("Cluster %q created, seeded from %s\n", clusterID, target)
		return nil
	},
}

var clusterAddInstanceCmd = &cobra.Command{
	Use:          "add-instance <cluster-id> <host:port>",
	Short:        "Join a standalone instance to a Cluster (§4.3.1)",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID, targetAddr := args[0], args[1]

		ctrl, closeFn, err := controllerFor(clusterID, metadata.KindCluster)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := context.Background()
		memberCfg := connectionConfigFromFlags()
		topo, err := loadTopology(ctx, ctrl.Store, clusterID, memberCfg)
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
					Role:     metadata.RoleClusterSecondary,
				},
				DB: targetDB,
			},
			Donors:         collectDonorSessions(topo),
			HostPattern:    hostPattern,
			AuthKind:       accounts.AuthPassword,
			RecoveryMethod: "clone",
			DryRun:         viper.GetBool("dry-run"),
		}

		creds, err := ctrl.AddMember(ctx, req)
		if err != nil {
			return err
		}

		fmt.Printf("Instance %s added to cluster %q\n", targetAddr, clusterID)
		if creds != nil {
			fmt.Printf("Recovery account: %s@%s\n", creds.User, creds.Host)
		}
		return nil
	},
}

var clusterRemoveInstanceCmd = &cobra.Command{
	Use:          "remove-instance <cluster-id> <instance-uuid>",
	Short:        "Remove a member from a Cluster (§4.3.2)",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID, memberUUID := args[0], args[1]

		ctrl, closeFn, err := controllerFor(clusterID, metadata.KindCluster)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := context.Background()
		memberCfg := connectionConfigFromFlags()
		topo, err := loadTopology(ctx, ctrl.Store, clusterID, memberCfg)
		if err != nil {
			return err
		}
		defer closeTopology(topo)

		target, ok := topo.ByUUID(memberUUID)
		if !ok {
			return fmt.Errorf("no member %s in cluster %q", memberUUID, clusterID)
		}

		var readReplicas []topology.Instance
		for _, inst := range topo.Instances {
			if inst.Role == metadata.RoleClusterReadReplica {
				readReplicas = append(readReplicas, inst)
			}
		}

		err = ctrl.RemoveMember(ctx, topology.RemoveMemberRequest{
			UUID:         memberUUID,
			Target:       target,
			Force:        viper.GetBool("force"),
			ReadReplicas: readReplicas,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Instance %s removed from cluster %q\n", target.Address(), clusterID)
		return nil
	},
}

var clusterDissolveCmd = &cobra.Command{
	Use:          "dissolve <cluster-id>",
	Short:        "Tear down every member of a Cluster (§4.3.5)",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID := args[0]

		ctrl, closeFn, err := controllerFor(clusterID, metadata.KindCluster)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := context.Background()
		memberCfg := connectionConfigFromFlags()
		topo, err := loadTopology(ctx, ctrl.Store, clusterID, memberCfg)
		if err != nil {
			return err
		}
		defer closeTopology(topo)

		result, err := ctrl.Dissolve(ctx, topo.Instances)

		format := viper.GetString("format")
		renderer := output.NewRenderer(format, os.Stdout)
		summary := output.UndoSummary{Operation: "dissolve", Applied: true, StepCount: len(topo.Instances)}
		if err != nil {
			summary.Error = err.Error()
		} else if len(result.Warnings) > 0 {
			summary.Error = strings.Join(result.Warnings, "; ")
		}
		renderer.RenderUndo(summary)

		return err
	},
}

var clusterStatusCmd = &cobra.Command{
	Use:          "status <cluster-id>",
	Short:        "Show a Cluster's current members and roles",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderTopologyStatus(args[0])
	},
}

// renderTopologyStatus is shared by cluster/replicaset/clusterset status
// subcommands: they differ only in the id namespace, not the read path.
func renderTopologyStatus(topologyID string) error {
	cfg := connectionConfigFromFlags()
	db, err := mysqlconn.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connecting to primary: %w", err)
	}
	defer db.Close()

	store := metadata.NewStore(db)
	ctx := context.Background()
	topo, err := loadTopology(ctx, store, topologyID, cfg)
	if err != nil {
		return err
	}
	defer closeTopology(topo)

	format := viper.GetString("format")
	renderer := output.NewRenderer(format, os.Stdout)
	renderer.RenderTopologyStatus(topo)
	return nil
}

// collectDonorSessions returns every reachable existing member's session,
// for use as AddMember's recovery-account donor list (§4.3.1).
func collectDonorSessions(topo topology.Topology) []*sql.DB {
	var donors []*sql.DB
	for _, inst := range topo.Instances {
		if inst.DB != nil {
			donors = append(donors, inst.DB)
		}
	}
	return donors
}

func readServerID(db *sql.DB) (int64, error) {
	var raw string
	if err := db.QueryRow("SELECT @@GLOBAL.server_id").Scan(&raw); err != nil {
		return 0, fmt.Errorf("reading server_id: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing server_id %q: %w", raw, err)
	}
	return id, nil
}

func splitHostPort(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid address %q: expected host:port", addr)
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in address %q: %w", addr, err)
	}
	return addr[:idx], port, nil
}

func init() {
	clusterAddInstanceCmd.Flags().String("host-pattern", "%", "allowed host pattern for the recovery account")
	clusterAddInstanceCmd.Flags().Bool("dry-run", false, "validate without making changes")
	viper.BindPFlag("host-pattern", clusterAddInstanceCmd.Flags().Lookup("host-pattern"))
	viper.BindPFlag("dry-run", clusterAddInstanceCmd.Flags().Lookup("dry-run"))

	clusterRemoveInstanceCmd.Flags().Bool("force", false, "remove even if the target is unreachable")
	viper.BindPFlag("force", clusterRemoveInstanceCmd.Flags().Lookup("force"))

	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterCreateCmd, clusterAddInstanceCmd, clusterRemoveInstanceCmd, clusterDissolveCmd, clusterStatusCmd)
}
