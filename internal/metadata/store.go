// Package metadata is the catalog client described by SPEC_FULL.md §4.4 and
// §6.2: a thin transactional wrapper over a SQL connection to the primary
// that owns the Instance/Topology/attribute rows every other component
// reads and writes through.
package metadata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clusterctl/core/internal/clustererr"
)

// CurrentVersion is the schema version this build of the library expects.
// Store.InstalledVersion is compared against it on every write.
const CurrentVersion = "1.0.0"

// Store wraps a *sql.DB pointed at a topology's primary and exposes the
// catalog operations of §4.4.
type Store struct {
	db *sql.DB
}

// NewStore wraps db as a metadata store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Tx is a metadata-store transaction plus the undo handle accumulating the
// inverse of every mutating call issued against it.
type Tx struct {
	tx   *sql.Tx
	undo *UndoHandle
}

// BeginTx opens a transaction for a structural change. It enforces the
// schema-version gate: if the installed schema is behind CurrentVersion,
// it refuses with a MetadataNeedsUpgrade error instead of opening the
// transaction.
func (s *Store) BeginTx(ctx context.Context) (*Tx, error) {
	installed, err := s.InstalledVersion(ctx)
	if err != nil {
		return nil, err
	}
	if installed != CurrentVersion {
		return nil, clustererr.WithCode(clustererr.KindMetadata, clustererr.CodeMetadataNeedsUpgrade,
			fmt.Sprintf("installed metadata schema %s does not match required %s", installed, CurrentVersion))
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindRuntime, "", err, "beginning metadata transaction")
	}
	return &Tx{tx: sqlTx, undo: NewUndoHandle()}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "committing metadata transaction")
	}
	return nil
}

// Rollback rolls back the transaction. Safe to call after Commit (no-op).
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return clustererr.Wrap(clustererr.KindRuntime, "", err, "rolling back metadata transaction")
	}
	return nil
}

// UndoHandle returns the handle accumulating this transaction's inverse
// statements.
func (t *Tx) UndoHandle() *UndoHandle {
	return t.undo
}

// InstalledVersion reports the schema version recorded in the catalog.
func (s *Store) InstalledVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, "SELECT version FROM clusterctl_schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return "", clustererr.Wrap(clustererr.KindMetadata, "", err, "reading installed schema version")
	}
	return version, nil
}

// GetInstanceByUUID fetches a single Instance row scoped to a topology.
func (s *Store) GetInstanceByUUID(ctx context.Context, uuid, topologyID string) (*InstanceRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT uuid, topology_id, host, port, socket, pipe, server_id, version, role, invalidated, repl_user, repl_host
		FROM clusterctl_instances
		WHERE uuid = ? AND topology_id = ?`, uuid, topologyID)

	var r InstanceRow
	var role string
	if err := row.Scan(&r.UUID, &r.TopologyID, &r.Host, &r.Port, &r.Socket, &r.Pipe,
		&r.ServerID, &r.Version, &role, &r.Invalidated, &r.ReplUser, &r.ReplHost); err != nil {
		if err == sql.ErrNoRows {
			return nil, clustererr.WithCode(clustererr.KindArgument, clustererr.CodeMemberMetadataMissing,
				fmt.Sprintf("no Instance row for uuid %s in topology %s", uuid, topologyID))
		}
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "fetching instance")
	}
	r.Role = Role(role)
	return &r, nil
}

// GetAllInstances returns every Instance attached to topologyID, optionally
// including rows marked invalidated.
func (s *Store) GetAllInstances(ctx context.Context, topologyID string, includeInvalidated bool) ([]InstanceRow, error) {
	query := `
		SELECT uuid, topology_id, host, port, socket, pipe, server_id, version, role, invalidated, repl_user, repl_host
		FROM clusterctl_instances
		WHERE topology_id = ?`
	if !includeInvalidated {
		query += " AND invalidated = 0"
	}

	rows, err := s.db.QueryContext(ctx, query, topologyID)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "listing instances")
	}
	defer rows.Close()

	var out []InstanceRow
	for rows.Next() {
		var r InstanceRow
		var role string
		if err := rows.Scan(&r.UUID, &r.TopologyID, &r.Host, &r.Port, &r.Socket, &r.Pipe,
			&r.ServerID, &r.Version, &role, &r.Invalidated, &r.ReplUser, &r.ReplHost); err != nil {
			return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "scanning instance row")
		}
		r.Role = Role(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetInstanceReplAccount returns the replication account (user, host)
// currently recorded for an Instance.
func (s *Store) GetInstanceReplAccount(ctx context.Context, uuid string, topologyKind TopologyKind, replicaKind Role) (user, host string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT repl_user, repl_host FROM clusterctl_instances
		WHERE uuid = ? AND role = ?`, uuid, string(replicaKind)).Scan(&user, &host)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", clustererr.Wrap(clustererr.KindMetadata, "", err, "fetching instance repl account")
	}
	return user, host, nil
}

// UpdateInstanceReplAccount sets the replication account recorded against
// an Instance row. When undo is non-nil, the previous (user, host) pair is
// recorded so the change can be unwound.
func (t *Tx) UpdateInstanceReplAccount(ctx context.Context, uuid string, topologyKind TopologyKind, replicaKind Role, user, host string) error {
	var prevUser, prevHost string
	err := t.tx.QueryRowContext(ctx, `
		SELECT repl_user, repl_host FROM clusterctl_instances WHERE uuid = ?`, uuid).Scan(&prevUser, &prevHost)
	if err != nil && err != sql.ErrNoRows {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "reading previous repl account")
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE clusterctl_instances SET repl_user = ?, repl_host = ? WHERE uuid = ?`, user, host, uuid); err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "updating instance repl account")
	}

	t.undo.record(`UPDATE clusterctl_instances SET repl_user = ?, repl_host = ? WHERE uuid = ?`, prevUser, prevHost, uuid)
	return nil
}

// GetClusterReplAccount and UpdateClusterReplAccount are the ClusterSet-
// level analogues of the Instance-level calls above, keyed by the
// topology's cluster id rather than an Instance uuid (§4.4).
func (s *Store) GetClusterReplAccount(ctx context.Context, clusterID string) (user, host string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT repl_user, repl_host FROM clusterctl_topologies WHERE id = ?`, clusterID).Scan(&user, &host)
	if err == sql.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", clustererr.Wrap(clustererr.KindMetadata, "", err, "fetching cluster repl account")
	}
	return user, host, nil
}

func (t *Tx) UpdateClusterReplAccount(ctx context.Context, clusterID, user, host string) error {
	var prevUser, prevHost string
	err := t.tx.QueryRowContext(ctx, `
		SELECT repl_user, repl_host FROM clusterctl_topologies WHERE id = ?`, clusterID).Scan(&prevUser, &prevHost)
	if err != nil && err != sql.ErrNoRows {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "reading previous cluster repl account")
	}

	if _, err := t.tx.ExecContext(ctx, `
		UPDATE clusterctl_topologies SET repl_user = ?, repl_host = ? WHERE id = ?`, user, host, clusterID); err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "updating cluster repl account")
	}

	t.undo.record(`UPDATE clusterctl_topologies SET repl_user = ?, repl_host = ? WHERE id = ?`, prevUser, prevHost, clusterID)
	return nil
}

// QueryClusterAttribute reads a single attribute-bag value for a topology.
// Returns ok=false if the key has never been set.
func (s *Store) QueryClusterAttribute(ctx context.Context, topologyID, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT value FROM clusterctl_cluster_attributes WHERE topology_id = ? AND attr_key = ?`,
		topologyID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, clustererr.Wrap(clustererr.KindMetadata, "", err, "reading cluster attribute")
	}
	return value, true, nil
}

// SetClusterAttribute upserts an attribute-bag value, recording its
// previous value (or absence) for undo.
func (t *Tx) SetClusterAttribute(ctx context.Context, topologyID, key, value string) error {
	var prevValue string
	err := t.tx.QueryRowContext(ctx, `
		SELECT value FROM clusterctl_cluster_attributes WHERE topology_id = ? AND attr_key = ?`,
		topologyID, key).Scan(&prevValue)
	hadPrev := err == nil
	if err != nil && err != sql.ErrNoRows {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "reading previous cluster attribute")
	}

	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO clusterctl_cluster_attributes (topology_id, attr_key, value)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE value = VALUES(value)`, topologyID, key, value); err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "setting cluster attribute")
	}

	if hadPrev {
		t.undo.record(`UPDATE clusterctl_cluster_attributes SET value = ? WHERE topology_id = ? AND attr_key = ?`,
			prevValue, topologyID, key)
	} else {
		t.undo.record(`DELETE FROM clusterctl_cluster_attributes WHERE topology_id = ? AND attr_key = ?`, topologyID, key)
	}
	return nil
}

// CountRecoveryAccountUses returns how many Instance (or, when
// clustersetScope is true, Topology) rows reference the named account —
// the gate §3.2 requires before an account may be dropped.
func (s *Store) CountRecoveryAccountUses(ctx context.Context, userName string, clustersetScope bool) (int, error) {
	table := "clusterctl_instances"
	column := "repl_user"
	if clustersetScope {
		table = "clusterctl_topologies"
	}

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, column)
	if err := s.db.QueryRowContext(ctx, query, userName).Scan(&count); err != nil {
		return 0, clustererr.Wrap(clustererr.KindMetadata, "", err, "counting recovery account uses")
	}
	return count, nil
}

// GetTopology fetches a Cluster/ReplicaSet/ClusterSet row by id.
func (s *Store) GetTopology(ctx context.Context, id string) (*TopologyRow, error) {
	var row TopologyRow
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name FROM clusterctl_topologies WHERE id = ?`, id).Scan(&row.ID, &kind, &row.Name)
	if err == sql.ErrNoRows {
		return nil, clustererr.WithCode(clustererr.KindArgument, clustererr.CodeMemberMetadataMissing,
			fmt.Sprintf("no Topology row for id %s", id))
	}
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "fetching topology")
	}
	row.Kind = TopologyKind(kind)
	return &row, nil
}

// InsertTopology writes a new Cluster/ReplicaSet/ClusterSet row inside tx,
// recording the inverse DELETE for undo.
func (t *Tx) InsertTopology(ctx context.Context, row TopologyRow) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO clusterctl_topologies (id, kind, name, repl_user, repl_host)
		VALUES (?, ?, ?, '', '')`, row.ID, string(row.Kind), row.Name)
	if err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "inserting topology")
	}
	t.undo.record(`DELETE FROM clusterctl_topologies WHERE id = ?`, row.ID)
	return nil
}

// DeleteTopology removes a Cluster/ReplicaSet/ClusterSet row inside tx once
// its last member has been dissolved (§4.3.5), recording the inverse INSERT
// for undo.
func (t *Tx) DeleteTopology(ctx context.Context, id string) error {
	var row TopologyRow
	var kind, replUser, replHost string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, kind, name, repl_user, repl_host FROM clusterctl_topologies WHERE id = ?`, id).Scan(
		&row.ID, &kind, &row.Name, &replUser, &replHost)
	if err == sql.ErrNoRows {
		return clustererr.WithCode(clustererr.KindArgument, clustererr.CodeMemberMetadataMissing,
			fmt.Sprintf("no Topology row for id %s", id))
	}
	if err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "reading topology before delete")
	}
	row.Kind = TopologyKind(kind)

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM clusterctl_topologies WHERE id = ?`, id); err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "deleting topology")
	}

	t.undo.record(`
		INSERT INTO clusterctl_topologies (id, kind, name, repl_user, repl_host)
		VALUES (?, ?, ?, ?, ?)`, row.ID, string(row.Kind), row.Name, replUser, replHost)
	return nil
}

// InsertInstance writes a new Instance row inside tx, recording the inverse
// DELETE for undo.
func (t *Tx) InsertInstance(ctx context.Context, row InstanceRow) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO clusterctl_instances
			(uuid, topology_id, host, port, socket, pipe, server_id, version, role, invalidated, repl_user, repl_host)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.UUID, row.TopologyID, row.Host, row.Port, row.Socket, row.Pipe,
		row.ServerID, row.Version, string(row.Role), row.Invalidated, row.ReplUser, row.ReplHost)
	if err != nil {
		return clustererr.Wrap(clustererr.KindMetadata, "", err, "inserting instance")
	}
	t.undo.record(`DELETE FROM clusterctl_instances WHERE uuid = ?`, row.UUID)
	return nil
}

// DeleteInstance removes an Instance row inside tx, recording the inverse
// INSERT for undo. Returns the row it deleted so the caller can use it
// (e.g. to re-point replica source pointers, §4.3.2).
func (t *Tx) DeleteInstance(ctx context.Context, uuid, topologyID string) (*InstanceRow, error) {
	var row InstanceRow
	var role string
	err := t.tx.QueryRowContext(ctx, `
		SELECT uuid, topology_id, host, port, socket, pipe, server_id, version, role, invalidated, repl_user, repl_host
		FROM clusterctl_instances WHERE uuid = ? AND topology_id = ?`, uuid, topologyID).Scan(
		&row.UUID, &row.TopologyID, &row.Host, &row.Port, &row.Socket, &row.Pipe,
		&row.ServerID, &row.Version, &role, &row.Invalidated, &row.ReplUser, &row.ReplHost)
	if err == sql.ErrNoRows {
		return nil, clustererr.WithCode(clustererr.KindArgument, clustererr.CodeMemberMetadataMissing,
			fmt.Sprintf("no Instance row for uuid %s in topology %s", uuid, topologyID))
	}
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "reading instance before delete")
	}
	row.Role = Role(role)

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM clusterctl_instances WHERE uuid = ?`, uuid); err != nil {
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "deleting instance")
	}

	t.undo.record(`
		INSERT INTO clusterctl_instances
			(uuid, topology_id, host, port, socket, pipe, server_id, version, role, invalidated, repl_user, repl_host)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.UUID, row.TopologyID, row.Host, row.Port, row.Socket, row.Pipe,
		row.ServerID, row.Version, string(row.Role), row.Invalidated, row.ReplUser, row.ReplHost)
	return &row, nil
}

// ListRouters returns every router registered against a topology. The
// routing-guideline evaluator that consumes these rows stays out of scope
// (§1); the store only owns registration (listRouters/routerOptions).
func (s *Store) ListRouters(ctx context.Context, topologyID string) ([]RouterRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topology_id, address, version, last_check_in
		FROM clusterctl_routers WHERE topology_id = ? ORDER BY id`, topologyID)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "listing routers")
	}
	defer rows.Close()

	var out []RouterRow
	for rows.Next() {
		var r RouterRow
		if err := rows.Scan(&r.ID, &r.TopologyID, &r.Address, &r.Version, &r.LastCheckIn); err != nil {
			return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "scanning router row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RouterOptions reads every routing-option key/value pair recorded against
// a router (routerOptions).
func (s *Store) RouterOptions(ctx context.Context, routerID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT opt_key, opt_value FROM clusterctl_router_options WHERE router_id = ?`, routerID)
	if err != nil {
		return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "reading router options")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, clustererr.Wrap(clustererr.KindMetadata, "", err, "scanning router option")
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SetRoutingOption upserts a topology-wide routing-guideline option
// (routingOptions). Like SetClusterAttribute, it records the previous
// value for undo.
func (t *Tx) SetRoutingOption(ctx context.Context, topologyID, key, value string) error {
	return t.SetClusterAttribute(ctx, topologyID, "routing_"+key, value)
}
