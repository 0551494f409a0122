package fanout

import (
	"testing"

	"github.com/clusterctl/core/internal/metadata"
)

func sampleMembers() []Member {
	return []Member{
		{UUID: "u1", Address: "10.0.0.1:3306", IsPrimary: true, Role: metadata.RoleClusterPrimary},
		{UUID: "u2", Address: "10.0.0.2:3306", Role: metadata.RoleClusterSecondary},
		{UUID: "u3", Address: "10.0.0.3:3306", Role: metadata.RoleClusterSecondary},
		{UUID: "u4", Address: "10.0.0.4:3306", Role: metadata.RoleClusterReadReplica},
	}
}

func TestSelect_All(t *testing.T) {
	out, err := Select(sampleMembers(), ByKeyword(KeywordAll), Selector{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 members, got %d", len(out))
	}
}

func TestSelect_Primary(t *testing.T) {
	out, err := Select(sampleMembers(), ByKeyword(KeywordPrimaryShort), Selector{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].UUID != "u1" {
		t.Fatalf("expected only the primary, got %+v", out)
	}
}

func TestSelect_Secondaries(t *testing.T) {
	out, err := Select(sampleMembers(), ByKeyword(KeywordSecondaries), Selector{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 non-primary, non-read-replica members, got %d", len(out))
	}
	for _, m := range out {
		if m.Role == metadata.RoleClusterReadReplica {
			t.Fatalf("secondaries selector must not include read replicas, got %+v", out)
		}
	}
}

// TestSelect_SecondariesAndReadReplicasAreDisjoint verifies §4.2.1's
// `secondaries` and `read-replicas` keywords never overlap: the read
// replica in sampleMembers must show up in exactly one of the two sets.
func TestSelect_SecondariesAndReadReplicasAreDisjoint(t *testing.T) {
	secondaries, err := Select(sampleMembers(), ByKeyword(KeywordSecondaries), Selector{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readReplicas, err := Select(sampleMembers(), ByKeyword(KeywordReadReplicas), Selector{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[string]bool, len(secondaries))
	for _, m := range secondaries {
		seen[m.UUID] = true
	}
	for _, m := range readReplicas {
		if seen[m.UUID] {
			t.Fatalf("member %q present in both secondaries and read-replicas", m.UUID)
		}
	}
}

func TestSelect_SecondariesInvalidInMultiPrimary(t *testing.T) {
	_, err := Select(sampleMembers(), ByKeyword(KeywordSecondaries), Selector{}, true)
	if err == nil {
		t.Fatal("expected an error selecting secondaries in multi-primary mode")
	}
}

func TestSelect_ReadReplicas(t *testing.T) {
	out, err := Select(sampleMembers(), ByKeyword(KeywordReadReplicasShort), Selector{}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].UUID != "u4" {
		t.Fatalf("expected only the read replica, got %+v", out)
	}
}

func TestSelect_ExcludeAfterInclude(t *testing.T) {
	out, err := Select(sampleMembers(), ByKeyword(KeywordAll), ByAddress("10.0.0.2:3306"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range out {
		if m.Address == "10.0.0.2:3306" {
			t.Fatalf("excluded address still present: %+v", out)
		}
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 members after exclusion, got %d", len(out))
	}
}

func TestSelect_ExcludeUnknownAddressIsHardError(t *testing.T) {
	_, err := Select(sampleMembers(), ByKeyword(KeywordAll), ByAddress("10.0.0.99:3306"), false)
	if err == nil {
		t.Fatal("expected an error excluding an unknown address")
	}
}

func TestSelect_IncludeUnknownAddressIsHardError(t *testing.T) {
	_, err := Select(sampleMembers(), ByAddress("10.0.0.99:3306"), Selector{}, false)
	if err == nil {
		t.Fatal("expected an error including an unknown address")
	}
}

func TestSelect_RequiresIncludeSelector(t *testing.T) {
	_, err := Select(sampleMembers(), Selector{}, Selector{}, false)
	if err == nil {
		t.Fatal("expected an error for a missing include selector")
	}
}

// Testable property 4: selection is idempotent — selecting twice from the
// same member set with the same selectors yields the same target list.
func TestSelect_Idempotent(t *testing.T) {
	members := sampleMembers()
	first, err := Select(members, ByKeyword(KeywordAll), ByAddress("10.0.0.2:3306"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Select(members, ByKeyword(KeywordAll), ByAddress("10.0.0.2:3306"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("selection not idempotent: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].UUID != second[i].UUID {
			t.Fatalf("selection not idempotent at index %d: %q vs %q", i, first[i].UUID, second[i].UUID)
		}
	}
}
