package fanout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestExecutor_Run_Unreachable(t *testing.T) {
	e := NewExecutor()
	targets := []Member{{UUID: "u1", Address: "10.0.0.1:3306", Label: "m1"}}

	results, err := e.Run(context.Background(), targets, "SELECT 1", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == nil || results[0].Error.Type != "mysqlsh" || results[0].Error.Message != unreachableMessage {
		t.Fatalf("expected unreachable error, got %+v", results[0])
	}
}

func TestExecutor_Run_DryRun(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	e := NewExecutor()
	targets := []Member{{UUID: "u1", Address: "10.0.0.1:3306", DB: db}}

	results, err := e.Run(context.Background(), targets, "SELECT 1", Options{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || len(results[0].Output) != 1 {
		t.Fatalf("unexpected results: %+v", results)
	}
	if len(results[0].Output[0].Warnings) != 1 || results[0].Output[0].Warnings[0] != "dry run execution" {
		t.Fatalf("expected dry-run warning, got %+v", results[0].Output[0])
	}
}

func TestExecutor_Run_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT CONNECTION_ID\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"CONNECTION_ID()"}).AddRow(42))
	mock.ExpectQuery(`SELECT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow("1"))
	mock.ExpectQuery(`SHOW WARNINGS`).
		WillReturnRows(sqlmock.NewRows([]string{"Level", "Code", "Message"}))

	e := NewExecutor()
	targets := []Member{{UUID: "u1", Address: "10.0.0.1:3306", DB: db}}

	results, err := e.Run(context.Background(), targets, "SELECT 1", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error != nil {
		t.Fatalf("unexpected error in result: %+v", results[0].Error)
	}
	if len(results[0].Output) != 1 || len(results[0].Output[0].Rows) != 1 {
		t.Fatalf("unexpected output: %+v", results[0].Output)
	}
	if results[0].Output[0].Rows[0][0] != "1" {
		t.Errorf("expected row value %q, got %q", "1", results[0].Output[0].Rows[0][0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecutor_Run_RejectsMultiStatement(t *testing.T) {
	e := NewExecutor()
	targets := []Member{{UUID: "u1", Address: "10.0.0.1:3306"}}

	_, err := e.Run(context.Background(), targets, "SELECT 1; SELECT 2;", Options{})
	if err == nil {
		t.Fatal("expected an error for a multi-statement input")
	}
}

func TestExecutor_Run_UnreachableAndReachableOrderingPreserved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT CONNECTION_ID\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"CONNECTION_ID()"}).AddRow(7))
	mock.ExpectQuery(`SELECT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow("1"))
	mock.ExpectQuery(`SHOW WARNINGS`).
		WillReturnRows(sqlmock.NewRows([]string{"Level", "Code", "Message"}))

	e := NewExecutor()
	targets := []Member{
		{UUID: "u1", Address: "10.0.0.1:3306"},
		{UUID: "u2", Address: "10.0.0.2:3306", DB: db},
	}

	results, err := e.Run(context.Background(), targets, "SELECT 1", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Error == nil {
		t.Errorf("expected the first (unreachable) target to carry an error")
	}
	if results[1].Error != nil {
		t.Errorf("expected the second (reachable) target to succeed, got %+v", results[1].Error)
	}
}

// TestExecutor_Run_Cancellation drives §4.2.4's interactive cancellation
// path end-to-end: a pre-signaled CancelRequested channel, a supervisor
// tick that finds the in-flight target in the cancel-set and fires Kill,
// and the killed query returning the interrupted-query error a live
// KILL CONNECTION would actually produce (§8.5's cancellation liveness).
func TestExecutor_Run_Cancellation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT CONNECTION_ID\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{"CONNECTION_ID()"}).AddRow(42))
	mock.ExpectQuery(`DO SLEEP`).
		WillDelayFor(400 * time.Millisecond).
		WillReturnError(fmt.Errorf("Query execution was interrupted"))

	e := NewExecutor()
	targets := []Member{{UUID: "u1", Address: "10.0.0.1:3306", DB: db}}

	cancelRequested := make(chan struct{})
	close(cancelRequested)

	var mu sync.Mutex
	var killedAddress string
	var killedConnID int64
	kill := func(_ context.Context, address string, connID int64) error {
		mu.Lock()
		killedAddress, killedConnID = address, connID
		mu.Unlock()
		return nil
	}

	results, err := e.Run(context.Background(), targets, "DO SLEEP(30)", Options{
		Interactive:     true,
		HostConcurrency: 4,
		CancelRequested: cancelRequested,
		Kill:            kill,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == nil || results[0].Error.Type != "canceled" || results[0].Error.Message != "canceled" {
		t.Fatalf("expected a canceled result, got %+v", results[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if killedAddress != "10.0.0.1:3306" || killedConnID != 42 {
		t.Fatalf("expected KILL CONNECTION against 10.0.0.1:3306 connID 42, got address=%q connID=%d", killedAddress, killedConnID)
	}
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		name            string
		targets         int
		hostConcurrency int
		interactive     bool
		want            int
	}{
		{"interactive small", 3, 8, true, 4},
		{"interactive floor", 3, 1, true, 2},
		{"non-interactive small", 3, 8, false, 3},
		{"non-interactive floor", 5, 1, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WorkerCount(tt.targets, tt.hostConcurrency, tt.interactive); got != tt.want {
				t.Errorf("WorkerCount(%d, %d, %v) = %d, want %d", tt.targets, tt.hostConcurrency, tt.interactive, got, tt.want)
			}
		})
	}
}
