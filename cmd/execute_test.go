package cmd

import "testing"

func TestExecuteCmd_Structure(t *testing.T) {
	if executeCmd.Name() != "execute" {
		t.Errorf("executeCmd.Use = %q", executeCmd.Use)
	}
	if executeCmd.RunE == nil {
		t.Error("executeCmd should use RunE")
	}
	if !executeCmd.SilenceUsage {
		t.Error("executeCmd should set SilenceUsage")
	}
	for _, flag := range []string{"on", "exclude", "timeout", "dry-run"} {
		if executeCmd.Flags().Lookup(flag) == nil {
			t.Errorf("executeCmd should register --%s", flag)
		}
	}
}

func TestExecuteCmd_DefaultSelector(t *testing.T) {
	f := executeCmd.Flags().Lookup("on")
	if f.DefValue != "all" {
		t.Errorf("default --on = %q, want all", f.DefValue)
	}
}
