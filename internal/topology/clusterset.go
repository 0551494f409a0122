package topology

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/clusterctl/core/internal/accounts"
	"github.com/clusterctl/core/internal/clustererr"
	"github.com/clusterctl/core/internal/lock"
)

// ClusterRef is one member Cluster of a ClusterSet, as the ClusterSet-level
// operations (§4.3.3, §4.3.4) need to see it: its own topology id and,
// when reachable, a session to its primary.
type ClusterRef struct {
	TopologyID string
	PrimaryDB  *sql.DB // nil when the Cluster's primary can't be reached
}

func (c ClusterRef) reachable() bool { return c.PrimaryDB != nil }

const defaultGTIDWaitTimeout = 30 * time.Second

// SwitchoverRequest describes a planned ClusterSet primary change
// (§4.3.3): the operation assumes the current primary is healthy and
// reachable.
type SwitchoverRequest struct {
	CurrentPrimary            ClusterRef
	NewPrimary                ClusterRef
	OtherClusters              []ClusterRef
	InvalidateReplicaClusters []string
	GTIDWaitTimeout           time.Duration
}

// Switchover promotes NewPrimary to ClusterSet primary, synchronizing it
// with CurrentPrimary first (§4.3.3). Any synchronization or lock step
// that times out aborts without writing metadata.
func (c *Controller) Switchover(ctx context.Context, req SwitchoverRequest) error {
	if err := checkReplicaClustersReachable(req.OtherClusters, req.InvalidateReplicaClusters); err != nil {
		return err
	}

	heldLock, err := c.Locks.Acquire(ctx, c.TopologyID, lock.Exclusive, lock.WaitForever)
	if err != nil {
		return err
	}
	defer heldLock.Release(ctx)

	timeout := req.GTIDWaitTimeout
	if timeout <= 0 {
		timeout = defaultGTIDWaitTimeout
	}
	if err := waitForGTIDSync(ctx, req.CurrentPrimary.PrimaryDB, req.NewPrimary.PrimaryDB, timeout); err != nil {
		return err
	}

	if _, err := req.CurrentPrimary.PrimaryDB.ExecContext(ctx, "FLUSH TABLES WITH READ LOCK"); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "locking current primary for switchover")
	}
	defer req.CurrentPrimary.PrimaryDB.ExecContext(ctx, "UNLOCK TABLES")

	if err := promoteNewPrimary(ctx, req.NewPrimary, req.OtherClusters); err != nil {
		return err
	}

	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.UpdateClusterReplAccount(ctx, req.NewPrimary.TopologyID, "", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FailoverRequest is like SwitchoverRequest but assumes the current primary
// is gone (§4.3.4).
type FailoverRequest struct {
	FormerPrimaryTopologyID   string
	NewPrimary                ClusterRef
	OtherClusters             []ClusterRef
	InvalidateReplicaClusters []string
}

// Failover promotes NewPrimary after the current primary is assumed lost,
// marking the former primary invalidated (§4.3.4). Named replicas absent
// from InvalidateReplicaClusters and unreachable abort the operation.
func (c *Controller) Failover(ctx context.Context, req FailoverRequest) error {
	if err := checkReplicaClustersReachable(req.OtherClusters, req.InvalidateReplicaClusters); err != nil {
		return err
	}

	heldLock, err := c.Locks.Acquire(ctx, c.TopologyID, lock.Exclusive, lock.WaitForever)
	if err != nil {
		return err
	}
	defer heldLock.Release(ctx)

	if err := promoteNewPrimary(ctx, req.NewPrimary, req.OtherClusters); err != nil {
		return err
	}

	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := tx.SetClusterAttribute(ctx, req.FormerPrimaryTopologyID, "opt_invalidated", "1"); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func checkReplicaClustersReachable(others []ClusterRef, invalidated []string) error {
	allowed := make(map[string]bool, len(invalidated))
	for _, id := range invalidated {
		allowed[id] = true
	}
	for _, ref := range others {
		if !ref.reachable() && !allowed[ref.TopologyID] {
			return clustererr.Argument("replica cluster %s is unreachable and was not named in invalidateReplicaClusters", ref.TopologyID)
		}
	}
	return nil
}

func waitForGTIDSync(ctx context.Context, currentPrimary, newPrimary *sql.DB, timeout time.Duration) error {
	var gtidSet string
	if err := currentPrimary.QueryRowContext(ctx, "SELECT @@GLOBAL.gtid_executed").Scan(&gtidSet); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "reading current primary's executed GTID set")
	}

	var result sql.NullInt64
	err := newPrimary.QueryRowContext(ctx, "SELECT WAIT_FOR_EXECUTED_GTID_SET(?, ?)", gtidSet, int(timeout/time.Second)).Scan(&result)
	if err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "waiting for GTID sync with new primary")
	}
	if result.Valid && result.Int64 != 0 {
		return clustererr.Runtime("timed out synchronizing new primary with current primary")
	}
	return nil
}

func promoteNewPrimary(ctx context.Context, newPrimary ClusterRef, others []ClusterRef) error {
	if _, err := newPrimary.PrimaryDB.ExecContext(ctx, "STOP REPLICA"); err != nil {
		log.Printf("[WARN] stopping replica channel on promoted primary %s: %v", newPrimary.TopologyID, err)
	}
	if _, err := newPrimary.PrimaryDB.ExecContext(ctx, "RESET REPLICA ALL"); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "clearing promoted primary's replica channel")
	}

	for _, other := range others {
		if other.TopologyID == newPrimary.TopologyID || !other.reachable() {
			continue
		}
		if err := repointClusterAt(ctx, other.PrimaryDB, newPrimary); err != nil {
			log.Printf("[WARN] repointing cluster %s at new primary: %v", other.TopologyID, err)
		}
	}
	return nil
}

func repointClusterAt(ctx context.Context, db *sql.DB, newPrimary ClusterRef) error {
	var host string
	var port int
	if err := newPrimary.PrimaryDB.QueryRowContext(ctx, "SELECT @@hostname, @@port").Scan(&host, &port); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "reading new primary's address")
	}
	stmt := fmt.Sprintf("CHANGE REPLICATION SOURCE TO SOURCE_HOST = '%s', SOURCE_PORT = %d", escapeLiteral(host), port)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "repointing replica cluster")
	}
	return nil
}

// DissolveResult reports per-member warnings from a best-effort Dissolve.
type DissolveResult struct {
	Warnings []string
}

// Dissolve tears down every member of the topology: best-effort stop
// replication, drop the replication account, erase the metadata row.
// It always advances, reporting per-member failures as warnings rather
// than aborting (§4.3.5).
func (c *Controller) Dissolve(ctx context.Context, members []Instance) (*DissolveResult, error) {
	heldLock, err := c.Locks.Acquire(ctx, c.TopologyID, lock.Exclusive, lock.WaitForever)
	if err != nil {
		return nil, err
	}
	defer heldLock.Release(ctx)

	result := &DissolveResult{}
	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	for _, member := range members {
		if member.Reachable() {
			if _, err := member.DB.ExecContext(ctx, "STOP REPLICA"); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: stopping replication: %v", member.Address(), err))
			}
		}

		mgr := accounts.NewManager(c.Primary, c.TopologyID)
		if member.ReplUser != "" {
			if err := mgr.DropAccountByName(ctx, member.ReplUser, nil); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: dropping replication account: %v", member.Address(), err))
			}
		}

		if _, err := tx.DeleteInstance(ctx, member.UUID, c.TopologyID); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: erasing metadata row: %v", member.Address(), err))
		}
	}

	if err := tx.DeleteTopology(ctx, c.TopologyID); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("erasing topology row: %v", err))
	}

	if err := tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}
