package topology

import (
	"database/sql"
	"fmt"

	"github.com/clusterctl/core/internal/metadata"
)

// Instance is the runtime view of a managed member: its catalog row plus,
// when reachable, a live session to it (§3.1).
type Instance struct {
	metadata.InstanceRow
	Label string
	DB    *sql.DB // nil when the instance couldn't be reached
}

// Address renders the instance's canonical host:port (or socket path) for
// display and for fan-out target matching.
func (i Instance) Address() string {
	if i.Socket != "" {
		return i.Socket
	}
	if i.Pipe != "" {
		return i.Pipe
	}
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}

// Reachable reports whether the instance currently has a live session.
func (i Instance) Reachable() bool { return i.DB != nil }

// Topology is one managed Cluster, ReplicaSet, or ClusterSet: its catalog
// row plus the Instances currently known to belong to it.
type Topology struct {
	metadata.TopologyRow
	Instances    []Instance
	MultiPrimary bool
}

// Primary returns the instance playing a primary role in this topology, if
// any. A ClusterSet's "primary" is the primary of its primary Cluster.
func (t Topology) Primary() (Instance, bool) {
	for _, inst := range t.Instances {
		switch inst.Role {
		case metadata.RoleClusterPrimary, metadata.RoleReplicaSetPrimary, metadata.RoleClusterSetPrimaryOfCluster:
			return inst, true
		}
	}
	return Instance{}, false
}

// ByUUID finds a member instance by uuid.
func (t Topology) ByUUID(uuid string) (Instance, bool) {
	for _, inst := range t.Instances {
		if inst.UUID == uuid {
			return inst, true
		}
	}
	return Instance{}, false
}

// ByAddress finds a member instance by its canonical address.
func (t Topology) ByAddress(address string) (Instance, bool) {
	for _, inst := range t.Instances {
		if inst.Address() == address {
			return inst, true
		}
	}
	return Instance{}, false
}
