package accounts

import "testing"

func TestUsername(t *testing.T) {
	tests := []struct {
		name     string
		family   Family
		serverID int64
		want     string
	}{
		{"group replication decimal", FamilyGroupReplication, 101, "mysql_innodb_cluster_101"},
		{"legacy recovery decimal", FamilyLegacyRecovery, 101, "mysql_innodb_cluster_r101"},
		{"read replica decimal", FamilyReadReplica, 42, "mysql_innodb_replica_42"},
		{"clusterset hex", FamilyClusterSet, 255, "mysql_innodb_cs_ff"},
		{"replicaset decimal", FamilyReplicaSet, 7, "mysql_innodb_rs_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Username(tt.family, tt.serverID); got != tt.want {
				t.Errorf("Username(%v, %d) = %q, want %q", tt.family, tt.serverID, got, tt.want)
			}
		})
	}
}

func TestMatchesRecoveryPrefix(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		wantFamily Family
		wantOK     bool
	}{
		{"legacy recovery", "mysql_innodb_cluster_r101", FamilyLegacyRecovery, true},
		{"plain recovery", "mysql_innodb_cluster_101", FamilyGroupReplication, true},
		{"unrelated account", "mysql_innodb_replica_101", "", false},
		{"empty string", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			family, ok := MatchesRecoveryPrefix(tt.user)
			if ok != tt.wantOK {
				t.Fatalf("MatchesRecoveryPrefix(%q) ok = %v, want %v", tt.user, ok, tt.wantOK)
			}
			if ok && family != tt.wantFamily {
				t.Errorf("MatchesRecoveryPrefix(%q) family = %v, want %v", tt.user, family, tt.wantFamily)
			}
		})
	}
}

func TestUsername_Uniqueness(t *testing.T) {
	// Testable property 1: account names are unique across families for
	// the same server-id, since each family carries a distinct prefix.
	seen := make(map[string]bool)
	families := []Family{FamilyGroupReplication, FamilyLegacyRecovery, FamilyReadReplica, FamilyClusterSet, FamilyReplicaSet}
	for _, family := range families {
		name := Username(family, 101)
		if seen[name] {
			t.Fatalf("duplicate account name %q across families", name)
		}
		seen[name] = true
	}
}
