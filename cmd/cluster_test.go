package cmd

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clusterctl/core/internal/topology"
)

func TestSplitHostPort(t *testing.T) {
	cases := []struct {
		addr      string
		wantHost  string
		wantPort  int
		expectErr bool
	}{
		{"db1:3306", "db1", 3306, false},
		{"10.0.0.1:33061", "10.0.0.1", 33061, false},
		{"no-port", "", 0, true},
		{"db1:notaport", "", 0, true},
	}
	for _, tc := range cases {
		host, port, err := splitHostPort(tc.addr)
		if tc.expectErr {
			if err == nil {
				t.Errorf("splitHostPort(%q): expected error, got none", tc.addr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("splitHostPort(%q): unexpected error: %v", tc.addr, err)
		}
		if host != tc.wantHost || port != tc.wantPort {
			t.Errorf("splitHostPort(%q) = (%q, %d), want (%q, %d)", tc.addr, host, port, tc.wantHost, tc.wantPort)
		}
	}
}

func TestReadServerID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT @@GLOBAL.server_id").
		WillReturnRows(sqlmock.NewRows([]string{"server_id"}).AddRow("12345"))

	id, err := readServerID(db)
	if err != nil {
		t.Fatalf("readServerID: %v", err)
	}
	if id != 12345 {
		t.Errorf("readServerID = %d, want 12345", id)
	}
}

func TestReadServerID_NonNumeric(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT @@GLOBAL.server_id").
		WillReturnRows(sqlmock.NewRows([]string{"server_id"}).AddRow("not-a-number"))

	if _, err := readServerID(db); err == nil {
		t.Error("expected an error parsing a non-numeric server_id")
	}
}

func TestCollectDonorSessions_SkipsUnreachable(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	topo := topology.Topology{
		Instances: []topology.Instance{
			{DB: db},
			{DB: nil},
			{DB: db},
		},
	}

	donors := collectDonorSessions(topo)
	if len(donors) != 2 {
		t.Errorf("expected 2 reachable donors, got %d", len(donors))
	}
}

func TestClusterCommands_Structure(t *testing.T) {
	if clusterCmd.Name() != "cluster" {
		t.Errorf("clusterCmd.Use = %q", clusterCmd.Use)
	}
	subs := map[string]bool{}
	for _, c := range clusterCmd.Commands() {
		subs[c.Name()] = true
	}
	for _, want := range []string{"create", "add-instance", "remove-instance", "dissolve", "status"} {
		if !subs[want] {
			t.Errorf("expected cluster subcommand %q to be registered", want)
		}
	}
}
