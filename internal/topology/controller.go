// Package topology implements §3.1's entities and the §4.3 topology
// controller: the user-visible operations composing the metadata store,
// account manager, fan-out executor, and lock service (§2).
package topology

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/clusterctl/core/internal/accounts"
	"github.com/clusterctl/core/internal/clustererr"
	"github.com/clusterctl/core/internal/lock"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
)

// Controller exposes the §4.3 operations for one managed topology. Every
// operation follows the same three-phase skeleton: prepare (validate,
// acquire locks, resolve sessions), commit (mutate metadata + runtime in a
// transaction with a recorded undo list), finalize (unlock, emit
// diagnostics).
type Controller struct {
	Store      *metadata.Store
	Locks      *lock.Service
	Primary    *sql.DB
	TopologyID string
	Kind       metadata.TopologyKind
}

// NewController binds a Controller to one topology's metadata store, lock
// service, and primary session.
func NewController(store *metadata.Store, locks *lock.Service, primary *sql.DB, topologyID string, kind metadata.TopologyKind) *Controller {
	return &Controller{Store: store, Locks: locks, Primary: primary, TopologyID: topologyID, Kind: kind}
}

// AddMemberRequest describes a candidate to join a Cluster (§4.3.1).
type AddMemberRequest struct {
	Target         Instance
	Donors         []*sql.DB
	HostPattern    string
	AuthKind       accounts.AuthKind
	CertSubject    string
	RecoveryMethod string // "clone" or "incremental"
	DryRun         bool
}

const cloneStatusPollInterval = 2 * time.Second

// AddMember validates, provisions the recovery account, and writes the
// Instance row for a new Cluster member (§4.3.1).
func (c *Controller) AddMember(ctx context.Context, req AddMemberRequest) (*accounts.Credentials, error) {
	// prepare
	if !req.Target.Reachable() {
		return nil, clustererr.InstanceUnreachable(req.Target.Address())
	}

	info, err := Detect(req.Target.DB, false)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, "detecting target topology")
	}
	if info.Type != Standalone {
		return nil, clustererr.Argument("target %s is not standalone (detected %s)", req.Target.Address(), info.Type)
	}

	version, err := mysqlconn.GetServerVersion(req.Target.DB)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, "reading target version")
	}
	if !version.MeetsAddInstanceMinimum() {
		return nil, clustererr.Argument("target %s runs %s, below the required minimum 8.0.27", req.Target.Address(), version)
	}

	existing, err := c.Store.GetAllInstances(ctx, c.TopologyID, true)
	if err != nil {
		return nil, err
	}
	for _, row := range existing {
		if row.UUID == req.Target.UUID {
			return nil, clustererr.WithCode(clustererr.KindArgument, clustererr.CodeServerIDCollision,
				fmt.Sprintf("instance %s is already a member", req.Target.UUID))
		}
		if row.ServerID == req.Target.ServerID {
			return nil, clustererr.WithCode(clustererr.KindArgument, clustererr.CodeServerIDCollision,
				fmt.Sprintf("server-id %d collides with existing member %s", req.Target.ServerID, row.UUID))
		}
	}

	if hasUnmanagedReplication(req.Target.DB) {
		return nil, clustererr.Argument("target %s has an existing replication channel not managed by this topology", req.Target.Address())
	}

	heldLock, err := c.Locks.Acquire(ctx, c.TopologyID, lock.Exclusive, lock.WaitForever)
	if err != nil {
		return nil, err
	}
	defer heldLock.Release(ctx)

	if req.RecoveryMethod == "clone" {
		if err := c.waitForClone(ctx, req.Target.DB); err != nil {
			return nil, err
		}
	}

	// commit
	undo := accounts.NewUndoLog()
	creds, err := c.createRecoveryAccounts(ctx, req, undo)
	if err != nil {
		return nil, err
	}

	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		_ = undo.Apply(ctx, req.Target.DB)
		return nil, err
	}

	row := req.Target.InstanceRow
	row.TopologyID = c.TopologyID
	row.ReplUser = creds.User
	row.ReplHost = creds.Host
	if err := tx.InsertInstance(ctx, row); err != nil {
		_ = tx.UndoHandle().Apply(ctx, tx)
		_ = tx.Rollback()
		_ = undo.Apply(ctx, req.Target.DB)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_ = undo.Apply(ctx, req.Target.DB)
		return nil, err
	}

	// finalize
	return creds, nil
}

func (c *Controller) createRecoveryAccounts(ctx context.Context, req AddMemberRequest, undo *accounts.UndoLog) (*accounts.Credentials, error) {
	targetMgr := accounts.NewManager(req.Target.DB, c.TopologyID)

	var creds *accounts.Credentials
	err := withBinlogSuppressed(ctx, req.Target.DB, func() error {
		var err error
		creds, err = targetMgr.CreateAccountForMember(ctx, accounts.FamilyGroupReplication, req.Target.ServerID,
			req.HostPattern, req.AuthKind, req.CertSubject, false, req.DryRun, undo)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, donor := range req.Donors {
		donorMgr := accounts.NewManager(donor, c.TopologyID)
		if _, err := donorMgr.CreateAccountForMember(ctx, accounts.FamilyGroupReplication, req.Target.ServerID,
			req.HostPattern, req.AuthKind, req.CertSubject, true, req.DryRun, undo); err != nil {
			return nil, fmt.Errorf("creating recovery account on donor: %w", err)
		}
	}

	return creds, nil
}

// withBinlogSuppressed disables sql_log_bin for the duration of fn so the
// recovery account's creation doesn't generate an errant GTID on the
// target before it has joined the group (§4.3.1).
func withBinlogSuppressed(ctx context.Context, db *sql.DB, fn func() error) error {
	if _, err := db.ExecContext(ctx, "SET SESSION sql_log_bin = 0"); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "suppressing binlog")
	}
	defer db.ExecContext(ctx, "SET SESSION sql_log_bin = 1")
	return fn()
}

func hasUnmanagedReplication(db *sql.DB) bool {
	rows, err := db.Query("SHOW REPLICA STATUS")
	if err != nil {
		rows, err = db.Query("SHOW SLAVE STATUS")
	}
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

// waitForClone grants the target the privileges a clone-based provision
// needs and polls performance_schema.clone_status until the clone either
// completes or the context is done.
func (c *Controller) waitForClone(ctx context.Context, target *sql.DB) error {
	if _, err := target.ExecContext(ctx, "SET GLOBAL clone_valid_donor_list = ?", c.primaryHostPort()); err != nil {
		log.Printf("[WARN] setting clone_valid_donor_list: %v", err)
	}

	ticker := time.NewTicker(cloneStatusPollInterval)
	defer ticker.Stop()
	for {
		var state sql.NullString
		err := target.QueryRowContext(ctx, `
			SELECT state FROM performance_schema.clone_status ORDER BY id DESC LIMIT 1`).Scan(&state)
		if err == sql.ErrNoRows {
			return nil
		}
		if err == nil && state.String == "Completed" {
			return nil
		}
		if err == nil && state.String == "Failed" {
			return clustererr.Runtime("clone to target failed")
		}
		select {
		case <-ctx.Done():
			return clustererr.Wrap(clustererr.KindRuntime, "", ctx.Err(), "waiting for clone to complete")
		case <-ticker.C:
		}
	}
}

func (c *Controller) primaryHostPort() string {
	var host string
	var port int
	_ = c.Primary.QueryRow("SELECT @@hostname, @@port").Scan(&host, &port)
	return fmt.Sprintf("%s:%d", host, port)
}

// RemoveMemberRequest describes a member to remove (§4.3.2). ReadReplicas
// carries a live session for every read-replica whose running channel may
// still point at the removed member, so its source can be repointed at
// NewSourceHost/NewSourcePort; both are typically the topology's primary.
type RemoveMemberRequest struct {
	UUID   string
	Target Instance // Target.DB is nil when the member is unreachable; Force must then be set
	Force  bool

	ReadReplicas  []Instance
	NewSourceHost string
	NewSourcePort int
}

// RemoveMember removes a member's Instance row and, out of band, drops its
// replication account. It does not support undo after a partial failure —
// the operator must re-add the instance (§4.3.2).
func (c *Controller) RemoveMember(ctx context.Context, req RemoveMemberRequest) error {
	if _, err := c.Store.GetInstanceByUUID(ctx, req.UUID, c.TopologyID); err != nil {
		return err
	}

	members, err := c.Store.GetAllInstances(ctx, c.TopologyID, false)
	if err != nil {
		return err
	}
	if len(members) <= 1 {
		return clustererr.WithCode(clustererr.KindArgument, clustererr.CodeLastMember,
			"refusing to remove the last member; use dissolve instead")
	}

	if !req.Target.Reachable() && !req.Force {
		return clustererr.InstanceUnreachable(req.Target.Address())
	}

	heldLock, err := c.Locks.Acquire(ctx, c.TopologyID, lock.Exclusive, lock.WaitForever)
	if err != nil {
		return err
	}
	defer heldLock.Release(ctx)

	tx, err := c.Store.BeginTx(ctx)
	if err != nil {
		return err
	}

	deleted, err := tx.DeleteInstance(ctx, req.UUID, c.TopologyID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, replica := range req.ReadReplicas {
		repointIfSourceMatches(ctx, replica, deleted.Host, deleted.Port, req.NewSourceHost, req.NewSourcePort)
	}

	// Account drop happens out of band after the metadata commit, per
	// §4.3.2: a failure here is logged, not surfaced as the operation's
	// result. The deleted row is already gone from clusterctl_instances at
	// this point, so both counts below reflect the *other* members still
	// referencing the account (§3.2/§8.2's drop-only-if-unshared gate).
	conventional := accounts.Username(accounts.FamilyGroupReplication, deleted.ServerID)
	conventionalOtherRefs, err := c.Store.CountRecoveryAccountUses(ctx, conventional, false)
	if err != nil {
		log.Printf("[WARN] counting conventional account uses for removed member %s: %v", req.UUID, err)
		conventionalOtherRefs = 1 // refuse to drop a shared account on a read failure
	}

	var recordedOtherRefs int
	if deleted.ReplUser != "" {
		recordedOtherRefs, err = c.Store.CountRecoveryAccountUses(ctx, deleted.ReplUser, false)
		if err != nil {
			log.Printf("[WARN] counting recorded account uses for removed member %s: %v", req.UUID, err)
			recordedOtherRefs = 1
		}
	}

	mgr := accounts.NewManager(c.Primary, c.TopologyID)
	if err := mgr.DropAccountForRemovedMember(ctx, accounts.FamilyGroupReplication, deleted.ServerID, conventionalOtherRefs,
		deleted.ReplUser, deleted.ReplHost, recordedOtherRefs, false, nil); err != nil {
		log.Printf("[WARN] dropping replication account for removed member %s: %v", req.UUID, err)
	}

	return nil
}

// repointIfSourceMatches issues CHANGE REPLICATION SOURCE on replica only
// if its running channel currently points at the host/port being removed
// (§4.3.2). Failures are logged, not propagated — re-pointing is a
// best-effort cleanup on top of an already-committed metadata change.
func repointIfSourceMatches(ctx context.Context, replica Instance, removedHost string, removedPort int, newHost string, newPort int) {
	if !replica.Reachable() {
		return
	}

	var sourceHost string
	var sourcePort int
	rows, err := replica.DB.QueryContext(ctx, "SHOW REPLICA STATUS")
	if err != nil {
		rows, err = replica.DB.QueryContext(ctx, "SHOW SLAVE STATUS")
	}
	if err != nil {
		log.Printf("[WARN] reading replication status for %s: %v", replica.Address(), err)
		return
	}
	defer rows.Close()

	if !rows.Next() {
		return
	}
	cols, _ := rows.Columns()
	values := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		log.Printf("[WARN] scanning replication status for %s: %v", replica.Address(), err)
		return
	}
	for i, col := range cols {
		switch col {
		case "Source_Host", "Master_Host":
			sourceHost = values[i].String
		case "Source_Port", "Master_Port":
			sourcePort, _ = strconv.Atoi(values[i].String)
		}
	}

	if sourceHost != removedHost || sourcePort != removedPort {
		return
	}

	stmt := fmt.Sprintf("CHANGE REPLICATION SOURCE TO SOURCE_HOST = '%s', SOURCE_PORT = %d",
		escapeLiteral(newHost), newPort)
	if _, err := replica.DB.ExecContext(ctx, stmt); err != nil {
		log.Printf("[WARN] repointing replica %s away from removed member: %v", replica.Address(), err)
	}
}

// escapeLiteral escapes a single-quoted SQL string literal for inclusion in
// CHANGE REPLICATION SOURCE statements, mirroring the account manager's
// escaping discipline for the same reason: these statements don't accept
// placeholders for their literal arguments.
func escapeLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// RejoinRequest describes a member whose channel stopped but whose
// metadata row is still intact (§2 item 7's supplemental rejoinInstance).
type RejoinRequest struct {
	Target Instance
}

// RejoinMember reconnects a member's replication channel using its
// existing recovery account rather than recreating one: §4.1.2's create
// is idempotent under only-on-target, so recreating the account here
// would just recreate what's already on the primary with the recorded
// user/host recovered from the catalog.
func (c *Controller) RejoinMember(ctx context.Context, req RejoinRequest) error {
	if !req.Target.Reachable() {
		return clustererr.InstanceUnreachable(req.Target.Address())
	}

	row, err := c.Store.GetInstanceByUUID(ctx, req.Target.UUID, c.TopologyID)
	if err != nil {
		return err
	}
	if row.ReplUser == "" {
		return clustererr.Metadata("instance %s has no recorded recovery account; use add-instance instead", req.Target.UUID)
	}

	heldLock, err := c.Locks.Acquire(ctx, c.TopologyID, lock.Exclusive, lock.WaitForever)
	if err != nil {
		return err
	}
	defer heldLock.Release(ctx)

	switch c.Kind {
	case metadata.KindReplicaSet:
		if _, err := req.Target.DB.ExecContext(ctx, "START REPLICA"); err != nil {
			return clustererr.Wrap(clustererr.KindRuntime, "", err, "starting replication channel")
		}
	default:
		if _, err := req.Target.DB.ExecContext(ctx, "START GROUP_REPLICATION"); err != nil {
			return clustererr.Wrap(clustererr.KindRuntime, "", err, "rejoining group replication")
		}
	}

	return nil
}
