package cmd

import (
	"context"
	"fmt"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/lock"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
	"github.com/spf13/viper"
)

// connectionConfigFromFlags builds a mysqlconn.ConnectionConfig from the
// persistent connection flags (§4.6), prompting for a password when none
// was supplied.
func connectionConfigFromFlags() mysqlconn.ConnectionConfig {
	cfg := mysqlconn.ConnectionConfig{
		Host:     viper.GetString("host"),
		Port:     viper.GetInt("port"),
		User:     viper.GetString("user"),
		Password: viper.GetString("password"),
		Database: viper.GetString("database"),
		Socket:   viper.GetString("socket"),
	}
	if cfg.Host == "" && cfg.Socket == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.User == "" {
		cfg.User = "clusterctl"
	}
	if cfg.Password == "" {
		cfg.Password = mysqlconn.PromptPassword()
	}
	return cfg
}

// controllerFor opens a primary connection and returns a bound Controller
// for the named topology (§4.3), along with the cleanup to run when done.
func controllerFor(topologyID string, kind metadata.TopologyKind) (*topology.Controller, func(), error) {
	cfg := connectionConfigFromFlags()
	db, err := mysqlconn.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to primary: %w", err)
	}
	store := metadata.NewStore(db)
	locks := lock.NewService(db)
	ctrl := topology.NewController(store, locks, db, topologyID, kind)
	return ctrl, func() { db.Close() }, nil
}

// loadTopology reads a topology's catalog row and member rows, dialing a
// live session to each reachable member. Members that can't be reached
// still appear in the result with a nil DB (§3.1's Reachable()).
func loadTopology(ctx context.Context, store *metadata.Store, topologyID string, memberCfg mysqlconn.ConnectionConfig) (topology.Topology, error) {
	row, err := store.GetTopology(ctx, topologyID)
	if err != nil {
		return topology.Topology{}, err
	}

	rows, err := store.GetAllInstances(ctx, topologyID, false)
	if err != nil {
		return topology.Topology{}, err
	}

	topo := topology.Topology{TopologyRow: *row}
	for _, r := range rows {
		inst := topology.Instance{InstanceRow: r}
		dialCfg := memberCfg
		dialCfg.Host = r.Host
		dialCfg.Port = r.Port
		dialCfg.Socket = r.Socket
		if db, derr := mysqlconn.Connect(dialCfg); derr == nil {
			inst.DB = db
		}
		topo.Instances = append(topo.Instances, inst)
	}
	return topo, nil
}

// killerFor builds a fanout.Killer that dials a fresh connection to the
// target address with the admin credentials in cfg and issues KILL
// CONNECTION against it (§4.2.4). Each call opens and closes its own
// connection; a killed target is rare enough that this isn't worth pooling.
func killerFor(cfg mysqlconn.ConnectionConfig) fanout.Killer {
	return func(ctx context.Context, address string, connID int64) error {
		host, port, err := splitHostPort(address)
		if err != nil {
			return err
		}
		killCfg := cfg
		killCfg.Host = host
		killCfg.Port = port
		killCfg.Socket = ""

		db, err := mysqlconn.Connect(killCfg)
		if err != nil {
			return fmt.Errorf("dialing %s to kill connection %d: %w", address, connID, err)
		}
		defer db.Close()

		_, err = db.ExecContext(ctx, fmt.Sprintf("KILL CONNECTION %d", connID))
		return err
	}
}

// closeTopology closes every live member session loadTopology opened.
func closeTopology(topo topology.Topology) {
	for _, inst := range topo.Instances {
		if inst.DB != nil {
			inst.DB.Close()
		}
	}
}

// fanoutMembers converts a Topology's Instances into fanout.Member targets.
func fanoutMembers(topo topology.Topology) []fanout.Member {
	members := make([]fanout.Member, 0, len(topo.Instances))
	for _, inst := range topo.Instances {
		members = append(members, fanout.Member{
			UUID:      inst.UUID,
			Address:   inst.Address(),
			Version:   inst.Version,
			Role:      inst.Role,
			IsPrimary: inst.Role == metadata.RoleClusterPrimary || inst.Role == metadata.RoleReplicaSetPrimary || inst.Role == metadata.RoleClusterSetPrimaryOfCluster,
			ClusterID: inst.TopologyID,
			DB:        inst.DB,
		})
	}
	return members
}
