package cmd

import "testing"

func TestReplicaSetCommands_Structure(t *testing.T) {
	if replicaSetCmd.Name() != "replicaset" {
		t.Errorf("replicaSetCmd.Use = %q", replicaSetCmd.Use)
	}
	subs := map[string]bool{}
	for _, c := range replicaSetCmd.Commands() {
		subs[c.Name()] = true
	}
	for _, want := range []string{"create", "add-instance", "remove-instance", "status"} {
		if !subs[want] {
			t.Errorf("expected replicaset subcommand %q to be registered", want)
		}
	}
}

func TestReplicaSetAddInstanceCmd_OwnFlags(t *testing.T) {
	if replicaSetAddInstanceCmd.Flags().Lookup("host-pattern") == nil {
		t.Error("replicaset add-instance should register its own --host-pattern flag")
	}
	if replicaSetAddInstanceCmd.Flags().Lookup("dry-run") == nil {
		t.Error("replicaset add-instance should register its own --dry-run flag")
	}
}

func TestReplicaSetRemoveInstanceCmd_OwnFlags(t *testing.T) {
	if replicaSetRemoveInstanceCmd.Flags().Lookup("force") == nil {
		t.Error("replicaset remove-instance should register its own --force flag")
	}
}
