package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
)

// PlainRenderer produces unformatted text output safe for piping.
type PlainRenderer struct {
	w io.Writer
}

func (r *PlainRenderer) RenderFanout(results []fanout.TargetResult) {
	for _, res := range results {
		fmt.Fprintf(r.w, "=== %s ===\n", res.Instance.Address)
		if res.Instance.Label != "" {
			fmt.Fprintf(r.w, "Label:   %s\n", res.Instance.Label)
		}

		if res.Error != nil {
			fmt.Fprintf(r.w, "ERROR:   %s\n\n", res.Error.Message)
			continue
		}

		for _, set := range res.Output {
			fmt.Fprintf(r.w, "Columns: %s\n", strings.Join(set.ColumnNames, ", "))
			fmt.Fprintf(r.w, "Rows:    %d\n", len(set.Rows))
			fmt.Fprintf(r.w, "Time:    %s\n", set.ExecutionTime)
			for _, w := range set.Warnings {
				fmt.Fprintf(r.w, "WARNING: %s\n", w)
			}
		}
		fmt.Fprintln(r.w)
	}
}

func (r *PlainRenderer) RenderTopologyStatus(topo topology.Topology) {
	fmt.Fprintf(r.w, "=== Topology Status ===\n\n")
	fmt.Fprintf(r.w, "Kind:          %s\n", topo.Kind)
	fmt.Fprintf(r.w, "Name:          %s\n", topo.Name)
	fmt.Fprintf(r.w, "Multi-primary: %v\n", topo.MultiPrimary)
	fmt.Fprintf(r.w, "Members:       %d\n\n", len(topo.Instances))

	for _, inst := range topo.Instances {
		fmt.Fprintf(r.w, "--- %s ---\n", inst.Address())
		fmt.Fprintf(r.w, "Role:          %s\n", inst.Role)
		fmt.Fprintf(r.w, "Version:       %s\n", inst.Version)
		fmt.Fprintf(r.w, "Reachable:     %v\n\n", inst.Reachable())
	}
}

func (r *PlainRenderer) RenderProbe(conn mysqlconn.ConnectionConfig, info *topology.Info) {
	addr := fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	if conn.Socket != "" {
		addr = conn.Socket
	}
	fmt.Fprintf(r.w, "=== Connection Info ===\n\n")
	fmt.Fprintf(r.w, "Connected to:  %s\n", addr)
	fmt.Fprintf(r.w, "Version:       %s\n", info.Version.String())
	fmt.Fprintf(r.w, "Topology:      %s\n", formatTopoType(info))
	fmt.Fprintf(r.w, "Read only:     %v\n", info.ReadOnly)
	if info.IsCloudManaged {
		fmt.Fprintf(r.w, "Cloud:         %s\n", info.CloudProvider)
	}
}

func (r *PlainRenderer) RenderUndo(summary UndoSummary) {
	fmt.Fprintf(r.w, "=== Undo — %s ===\n\n", summary.Operation)
	if !summary.Applied {
		fmt.Fprintln(r.w, "this operation does not support undo")
		return
	}
	fmt.Fprintf(r.w, "Steps applied: %d\n", summary.StepCount)
	if summary.Error != "" {
		fmt.Fprintf(r.w, "ERROR: %s\n", summary.Error)
	}
}
