package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/clusterctl/core/internal/lock"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
	"github.com/spf13/cobra"
)

var clusterSetCmd = &cobra.Command{
	Use:   "clusterset",
	Short: "Manage ClusterSets (a primary Cluster plus replica Clusters)",
}

// A ClusterSet's members are whole Clusters, each already tracked by its
// own Topology/Instance rows, so membership and the current primary live
// in the ClusterSet topology's own attribute bag rather than a fourth kind
// of catalog row.

var clusterSetCreateCmd = &cobra.Command{
	Use:          "create <clusterset-id> <primary-cluster-id>",
	Short:        "Bootstrap a new ClusterSet from an existing primary Cluster",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterSetID, primaryClusterID := args[0], args[1]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to primary cluster: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		ctx := context.Background()
		if _, err := store.GetTopology(ctx, primaryClusterID); err != nil {
			return fmt.Errorf("primary cluster %q: %w", primaryClusterID, err)
		}

		tx, err := store.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertTopology(ctx, metadata.TopologyRow{ID: clusterSetID, Kind: metadata.KindClusterSet, Name: clusterSetID}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.SetClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetPrimaryCluster, primaryClusterID); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.SetClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetMemberClusters, primaryClusterID); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		fmt.Printf("ClusterSet %q created with primary cluster %q\n", clusterSetID, primaryClusterID)
		return nil
	},
}

var clusterSetAddClusterCmd = &cobra.Command{
	Use:          "add-cluster <clusterset-id> <cluster-id>",
	Short:        "Attach an existing Cluster to a ClusterSet as a replica cluster",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterSetID, memberClusterID := args[0], args[1]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to clusterset primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		ctx := context.Background()
		if _, err := store.GetTopology(ctx, memberClusterID); err != nil {
			return fmt.Errorf("cluster %q: %w", memberClusterID, err)
		}

		members, err := clusterSetMembers(ctx, store, clusterSetID)
		if err != nil {
			return err
		}
		for _, id := range members {
			if id == memberClusterID {
				return fmt.Errorf("cluster %q is already a member of clusterset %q", memberClusterID, clusterSetID)
			}
		}
		members = append(members, memberClusterID)

		tx, err := store.BeginTx(ctx)
		if err != nil {
			return err
		}
		if err := tx.SetClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetMemberClusters, strings.Join(members, ",")); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		fmt.Printf("Cluster %q attached to clusterset %q as a replica cluster\n", memberClusterID, clusterSetID)
		return nil
	},
}

var clusterSetSwitchoverCmd = &cobra.Command{
	Use:          "switchover <clusterset-id> <new-primary-cluster-id>",
	Short:        "Promote a replica Cluster to ClusterSet primary (§4.3.3)",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterSetID, newPrimaryID := args[0], args[1]
		invalidate, _ := cmd.Flags().GetStringSlice("invalidate-replica-clusters")
		return runClusterSetPromotion(clusterSetID, newPrimaryID, false, invalidate)
	},
}

var clusterSetForcePrimaryCmd = &cobra.Command{
	Use:          "force-primary <clusterset-id> <new-primary-cluster-id>",
	Short:        "Fail the ClusterSet over to a surviving replica Cluster (§4.3.4)",
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterSetID, newPrimaryID := args[0], args[1]
		invalidate, _ := cmd.Flags().GetStringSlice("invalidate-replica-clusters")
		return runClusterSetPromotion(clusterSetID, newPrimaryID, true, invalidate)
	},
}

// clusterSetMembers returns every member cluster id recorded against a
// ClusterSet topology, in the order they were added.
func clusterSetMembers(ctx context.Context, store *metadata.Store, clusterSetID string) ([]string, error) {
	csv, ok, err := store.QueryClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetMemberClusters)
	if err != nil {
		return nil, err
	}
	if !ok || csv == "" {
		return nil, nil
	}
	return strings.Split(csv, ","), nil
}

// clusterRef dials a member cluster's current primary and returns it as a
// ClusterRef, for use by ClusterSet-level operations that reason about
// whole member Clusters rather than individual instances.
func clusterRef(ctx context.Context, store *metadata.Store, memberCfg mysqlconn.ConnectionConfig, clusterID string) (topology.ClusterRef, error) {
	rows, err := store.GetAllInstances(ctx, clusterID, false)
	if err != nil {
		return topology.ClusterRef{}, err
	}
	for _, r := range rows {
		if r.Role != metadata.RoleClusterPrimary && r.Role != metadata.RoleClusterSetPrimaryOfCluster {
			continue
		}
		dialCfg := memberCfg
		dialCfg.Host, dialCfg.Port, dialCfg.Socket = r.Host, r.Port, r.Socket
		db, _ := mysqlconn.Connect(dialCfg)
		return topology.ClusterRef{TopologyID: clusterID, PrimaryDB: db}, nil
	}
	return topology.ClusterRef{TopologyID: clusterID}, nil
}

// runClusterSetPromotion resolves every member cluster's ClusterRef and
// runs either Switchover (failover=false) or Failover (failover=true)
// against newPrimaryID, then updates the ClusterSet's recorded primary.
// invalidate carries the calling command's own --invalidate-replica-clusters
// value; switchover and force-primary each register that flag on their own
// FlagSet, so it's read from cmd.Flags() rather than a shared viper key.
func runClusterSetPromotion(clusterSetID, newPrimaryID string, failover bool, invalidate []string) error {
	cfg := connectionConfigFromFlags()
	db, err := mysqlconn.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connecting to ClusterSet primary: %w", err)
	}
	defer db.Close()

	store := metadata.NewStore(db)
	ctx := context.Background()

	currentPrimaryID, ok, err := store.QueryClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetPrimaryCluster)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("clusterset %q has no recorded primary cluster", clusterSetID)
	}

	members, err := clusterSetMembers(ctx, store, clusterSetID)
	if err != nil {
		return err
	}
	found := false
	for _, id := range members {
		if id == newPrimaryID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("no member cluster %q in clusterset %q", newPrimaryID, clusterSetID)
	}

	var (
		currentPrimary topology.ClusterRef
		newPrimary     topology.ClusterRef
		others         []topology.ClusterRef
	)
	for _, id := range members {
		ref, err := clusterRef(ctx, store, cfg, id)
		if err != nil {
			return err
		}
		if ref.PrimaryDB != nil {
			defer ref.PrimaryDB.Close()
		}
		switch id {
		case newPrimaryID:
			newPrimary = ref
		case currentPrimaryID:
			currentPrimary = ref
		default:
			others = append(others, ref)
		}
	}

	ctrl := topology.NewController(store, lock.NewService(db), db, clusterSetID, metadata.KindClusterSet)

	if failover {
		err = ctrl.Failover(ctx, topology.FailoverRequest{
			FormerPrimaryTopologyID:   currentPrimary.TopologyID,
			NewPrimary:                newPrimary,
			OtherClusters:             others,
			InvalidateReplicaClusters: invalidate,
		})
	} else {
		err = ctrl.Switchover(ctx, topology.SwitchoverRequest{
			CurrentPrimary:            currentPrimary,
			NewPrimary:                newPrimary,
			OtherClusters:             others,
			InvalidateReplicaClusters: invalidate,
		})
	}
	if err != nil {
		return err
	}

	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.SetClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetPrimaryCluster, newPrimaryID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	verb := "Switchover"
	if failover {
		verb = "Failover"
	}
	fmt.Printf("%s complete: cluster %q is now the ClusterSet primary\n", verb, newPrimaryID)
	return nil
}

var clusterSetDissolveCmd = &cobra.Command{
	Use:          "dissolve <clusterset-id>",
	Short:        "Tear down every member Cluster of a ClusterSet (§4.3.5)",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterSetID := args[0]

		ctrl, closeFn, err := controllerFor(clusterSetID, metadata.KindClusterSet)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := context.Background()
		memberCfg := connectionConfigFromFlags()

		members, err := clusterSetMembers(ctx, ctrl.Store, clusterSetID)
		if err != nil {
			return err
		}

		var allInstances []topology.Instance
		for _, memberClusterID := range members {
			topo, err := loadTopology(ctx, ctrl.Store, memberClusterID, memberCfg)
			if err != nil {
				return fmt.Errorf("loading member cluster %q: %w", memberClusterID, err)
			}
			defer closeTopology(topo)
			allInstances = append(allInstances, topo.Instances...)
		}

		result, err := ctrl.Dissolve(ctx, allInstances)
		if err != nil {
			return err
		}
		for _, w := range result.Warnings {
			fmt.Printf("warning: %s\n", w)
		}
		fmt.Printf("ClusterSet %q dissolved\n", clusterSetID)
		return nil
	},
}

var clusterSetStatusCmd = &cobra.Command{
	Use:          "status <clusterset-id>",
	Short:        "Show a ClusterSet's member clusters and current primary",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterSetID := args[0]

		cfg := connectionConfigFromFlags()
		db, err := mysqlconn.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connecting to clusterset primary: %w", err)
		}
		defer db.Close()

		store := metadata.NewStore(db)
		ctx := context.Background()

		primaryID, _, err := store.QueryClusterAttribute(ctx, clusterSetID, metadata.AttrClusterSetPrimaryCluster)
		if err != nil {
			return err
		}
		members, err := clusterSetMembers(ctx, store, clusterSetID)
		if err != nil {
			return err
		}

		fmt.Printf("ClusterSet %q — primary cluster: %s\n", clusterSetID, primaryID)
		for _, id := range members {
			marker := "replica"
			if id == primaryID {
				marker = "primary"
			}
			fmt.Printf("  %s (%s)\n", id, marker)
			if err := renderTopologyStatus(id); err != nil {
				fmt.Printf("    (status unavailable: %v)\n", err)
			}
		}
		return nil
	},
}

func init() {
	clusterSetSwitchoverCmd.Flags().StringSlice("invalidate-replica-clusters", nil, "replica cluster ids to invalidate instead of requiring them reachable")
	clusterSetForcePrimaryCmd.Flags().StringSlice("invalidate-replica-clusters", nil, "replica cluster ids to invalidate instead of requiring them reachable")

	rootCmd.AddCommand(clusterSetCmd)
	clusterSetCmd.AddCommand(clusterSetCreateCmd, clusterSetAddClusterCmd, clusterSetSwitchoverCmd, clusterSetForcePrimaryCmd, clusterSetDissolveCmd, clusterSetStatusCmd)
}
