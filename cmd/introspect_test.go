package cmd

import "testing"

func TestIntrospectCommands_Structure(t *testing.T) {
	for _, cmd := range []struct {
		name string
		c    interface{ Name() string }
	}{
		{"rejoin-instance", rejoinInstanceCmd},
		{"describe", describeCmd},
		{"options", optionsCmd},
		{"router", routerCmd},
	} {
		if cmd.c.Name() != cmd.name {
			t.Errorf("command Use = %q, want %q", cmd.c.Name(), cmd.name)
		}
	}

	subs := map[string]bool{}
	for _, c := range routerCmd.Commands() {
		subs[c.Name()] = true
	}
	for _, want := range []string{"list", "options", "routing-options"} {
		if !subs[want] {
			t.Errorf("expected router subcommand %q to be registered", want)
		}
	}
}
