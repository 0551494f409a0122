package metadata

// Role is the tagged variant an Instance currently holds within its
// topology (§3.1).
type Role string

const (
	RoleClusterPrimary             Role = "cluster-primary"
	RoleClusterSecondary           Role = "cluster-secondary"
	RoleClusterReadReplica         Role = "cluster-read-replica"
	RoleReplicaSetPrimary          Role = "replicaset-primary"
	RoleReplicaSetReplica          Role = "replicaset-replica"
	RoleClusterSetPrimaryOfCluster Role = "clusterset-primary-of-cluster"
	RoleClusterSetReplicaOfCluster Role = "clusterset-replica-of-cluster"
)

// TopologyKind is the tagged variant a Topology row belongs to (§3.1).
type TopologyKind string

const (
	KindCluster    TopologyKind = "Cluster"
	KindClusterSet TopologyKind = "ClusterSet"
	KindReplicaSet TopologyKind = "ReplicaSet"
)

// InstanceRow is the catalog row for a single managed Instance.
type InstanceRow struct {
	UUID        string
	TopologyID  string
	Host        string
	Port        int
	Socket      string
	Pipe        string
	ServerID    int64
	Version     string
	Role        Role
	Invalidated bool
	ReplUser    string
	ReplHost    string
}

// Distinguished ClusterSet attribute keys (§4.4): a ClusterSet's member
// Cluster ids and current primary aren't their own Instance rows — a
// ClusterSet's members are whole Clusters, each already tracked by its own
// Topology/Instance rows — so they live in the same attribute bag as the
// other per-topology settings.
const (
	AttrClusterSetPrimaryCluster = "clusterset_primary_cluster_id"
	AttrClusterSetMemberClusters = "clusterset_member_cluster_ids" // comma-separated
	AttrInvalidated              = "opt_invalidated"
)

// TopologyRow is the catalog row for a Cluster/ClusterSet/ReplicaSet.
type TopologyRow struct {
	ID   string
	Kind TopologyKind
	Name string
}

// RouterRow is a registered MySQL Router's catalog row. The core owns
// router registration; evaluating routing guidelines against these rows
// stays out of scope (§1).
type RouterRow struct {
	ID          string
	TopologyID  string
	Address     string
	Version     string
	LastCheckIn string
}

// Distinguished cluster attribute keys (§4.4).
const (
	AttrReplicationAllowedHost   = "opt_replicationAllowedHost"
	AttrMemberAuthType           = "opt_memberAuthType"
	AttrCertIssuer               = "opt_certIssuer"
	AttrClusterSetReplicationSSL = "opt_clusterSetReplicationSslMode"
)
