package topology

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/clusterctl/core/internal/lock"
	"github.com/clusterctl/core/internal/metadata"
)

func TestController_AddMember_RejectsUnreachableTarget(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u1", Host: "10.0.0.5", Port: 3306}}

	_, err = c.AddMember(context.Background(), AddMemberRequest{Target: target})
	if err == nil {
		t.Fatal("expected an error for an unreachable target")
	}
}

func instanceColumns() []string {
	return []string{"uuid", "topology_id", "host", "port", "socket", "pipe", "server_id", "version", "role", "invalidated", "repl_user", "repl_host"}
}

func TestController_RemoveMember_RefusesLastMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u1", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u1", "topo1", "10.0.0.5", 3306, "", "", 101, "8.0.34", "cluster-primary", false, "", ""))

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u1", "topo1", "10.0.0.5", 3306, "", "", 101, "8.0.34", "cluster-primary", false, "", ""))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	err = c.RemoveMember(context.Background(), RemoveMemberRequest{UUID: "u1"})
	if err == nil {
		t.Fatal("expected CodeLastMember error")
	}
}

func TestController_RemoveMember_RefusesUnreachableWithoutForce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u2", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "", ""))

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u1", "topo1", "10.0.0.5", 3306, "", "", 101, "8.0.34", "cluster-primary", false, "", "").
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "", ""))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u2", Host: "10.0.0.6", Port: 3306}}
	err = c.RemoveMember(context.Background(), RemoveMemberRequest{UUID: "u2", Target: target, Force: false})
	if err == nil {
		t.Fatal("expected InstanceUnreachable error when Force is not set")
	}
}

func TestController_RemoveMember_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u2", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u1", "topo1", "10.0.0.5", 3306, "", "", 101, "8.0.34", "cluster-primary", false, "", "").
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))

	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("clusterctl:exclusive:topo1", -1).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))

	mock.ExpectQuery("SELECT version FROM clusterctl_schema_version").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(metadata.CurrentVersion))
	mock.ExpectBegin()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u2", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))
	mock.ExpectExec("DELETE FROM clusterctl_instances").WithArgs("u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM clusterctl_instances WHERE repl_user = \\?").
		WithArgs("mysql_innodb_cluster_102").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM clusterctl_instances WHERE repl_user = \\?").
		WithArgs("mysql_innodb_cluster_102").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery("SELECT host FROM mysql\\.user WHERE user = \\?").WithArgs("mysql_innodb_cluster_102").
		WillReturnRows(sqlmock.NewRows([]string{"host"}))
	mock.ExpectExec("DROP USER IF EXISTS 'mysql_innodb_cluster_102'@'%'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("clusterctl:exclusive:topo1").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u2", Host: "10.0.0.6", Port: 3306}, DB: db}
	err = c.RemoveMember(context.Background(), RemoveMemberRequest{UUID: "u2", Target: target})
	if err != nil {
		t.Fatalf("RemoveMember returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestController_RemoveMember_SharedAccountSurvives covers §3.2/§8.2's
// drop-only-if-unshared gate: a recovery account still referenced by
// another member (e.g. clone-sourced credentials per §4.1.2.f) must not be
// dropped just because one referencing member was removed.
func TestController_RemoveMember_SharedAccountSurvives(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u3", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u3", "topo1", "10.0.0.7", 3306, "", "", 103, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u1", "topo1", "10.0.0.5", 3306, "", "", 101, "8.0.34", "cluster-primary", false, "", "").
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%").
			AddRow("u3", "topo1", "10.0.0.7", 3306, "", "", 103, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))

	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("clusterctl:exclusive:topo1", -1).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))

	mock.ExpectQuery("SELECT version FROM clusterctl_schema_version").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(metadata.CurrentVersion))
	mock.ExpectBegin()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u3", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u3", "topo1", "10.0.0.7", 3306, "", "", 103, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))
	mock.ExpectExec("DELETE FROM clusterctl_instances").WithArgs("u3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Conventional name for the removed instance's own server-id (103) has
	// no other reference, so that one is dropped...
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM clusterctl_instances WHERE repl_user = \\?").
		WithArgs("mysql_innodb_cluster_103").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT host FROM mysql\\.user WHERE user = \\?").WithArgs("mysql_innodb_cluster_103").
		WillReturnRows(sqlmock.NewRows([]string{"host"}))

	// ...but the recorded account (shared clone credential) is still used
	// by u2, so it must survive: no DROP USER for it.
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM clusterctl_instances WHERE repl_user = \\?").
		WithArgs("mysql_innodb_cluster_102").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("clusterctl:exclusive:topo1").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u3", Host: "10.0.0.7", Port: 3306}, DB: db}
	err = c.RemoveMember(context.Background(), RemoveMemberRequest{UUID: "u3", Target: target})
	if err != nil {
		t.Fatalf("RemoveMember returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepointIfSourceMatches_RepointsWhenSourceMatchesRemoved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SHOW REPLICA STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"Source_Host", "Source_Port"}).AddRow("10.0.0.5", "3306"))
	mock.ExpectExec("CHANGE REPLICATION SOURCE TO SOURCE_HOST = 'primary', SOURCE_PORT = 3306").
		WillReturnResult(sqlmock.NewResult(0, 0))

	replica := Instance{InstanceRow: metadata.InstanceRow{UUID: "r1", Host: "10.0.0.7"}, DB: db}
	repointIfSourceMatches(context.Background(), replica, "10.0.0.5", 3306, "primary", 3306)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRepointIfSourceMatches_SkipsWhenSourceDiffers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SHOW REPLICA STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"Source_Host", "Source_Port"}).AddRow("10.0.0.9", "3306"))

	replica := Instance{InstanceRow: metadata.InstanceRow{UUID: "r1", Host: "10.0.0.7"}, DB: db}
	repointIfSourceMatches(context.Background(), replica, "10.0.0.5", 3306, "primary", 3306)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHasUnmanagedReplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SHOW REPLICA STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"Source_Host"}).AddRow("10.0.0.1"))

	if !hasUnmanagedReplication(db) {
		t.Error("expected an existing replica status row to report unmanaged replication")
	}
}

func TestWithBinlogSuppressed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("SET SESSION sql_log_bin = 0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION sql_log_bin = 1").WillReturnResult(sqlmock.NewResult(0, 0))

	called := false
	err = withBinlogSuppressed(context.Background(), db, func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("withBinlogSuppressed returned error: %v", err)
	}
	if !called {
		t.Error("expected the wrapped function to run")
	}
}

func TestEscapeLiteral(t *testing.T) {
	got := escapeLiteral(`O'Brien\`)
	want := `O\'Brien\\`
	if got != want {
		t.Errorf("escapeLiteral(%q) = %q, want %q", `O'Brien\`, got, want)
	}
}

func TestController_RejoinMember_RejectsUnreachableTarget(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u2"}}
	err = c.RejoinMember(context.Background(), RejoinRequest{Target: target})
	if err == nil {
		t.Fatal("expected an error for an unreachable target")
	}
}

func TestController_RejoinMember_RejectsMissingRecoveryAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u2", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "", ""))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u2", Host: "10.0.0.6", Port: 3306}, DB: db}
	err = c.RejoinMember(context.Background(), RejoinRequest{Target: target})
	if err == nil {
		t.Fatal("expected an error when no recovery account is recorded")
	}
}

func TestController_RejoinMember_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u2", "topo1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u2", "topo1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "cluster-secondary", false, "mysql_innodb_cluster_102", "%"))

	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("clusterctl:exclusive:topo1", -1).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))

	mock.ExpectExec("START GROUP_REPLICATION").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("clusterctl:exclusive:topo1").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "topo1", metadata.KindCluster)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u2", Host: "10.0.0.6", Port: 3306}, DB: db}
	if err := c.RejoinMember(context.Background(), RejoinRequest{Target: target}); err != nil {
		t.Fatalf("RejoinMember: %v", err)
	}
}

func TestController_RejoinMember_ReplicaSetUsesStartReplica(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT uuid, topology_id").WithArgs("u2", "rs1").
		WillReturnRows(sqlmock.NewRows(instanceColumns()).
			AddRow("u2", "rs1", "10.0.0.6", 3306, "", "", 102, "8.0.34", "replicaset-replica", false, "mysql_replicaset_102", "%"))

	mock.ExpectQuery("SELECT GET_LOCK").WithArgs("clusterctl:exclusive:rs1", -1).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))

	mock.ExpectExec("START REPLICA").WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("clusterctl:exclusive:rs1").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	c := NewController(metadata.NewStore(db), lock.NewService(db), db, "rs1", metadata.KindReplicaSet)
	target := Instance{InstanceRow: metadata.InstanceRow{UUID: "u2", Host: "10.0.0.6", Port: 3306}, DB: db}
	if err := c.RejoinMember(context.Background(), RejoinRequest{Target: target}); err != nil {
		t.Fatalf("RejoinMember: %v", err)
	}
}
