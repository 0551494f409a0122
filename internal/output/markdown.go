package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
)

// MarkdownRenderer produces markdown output for documentation/tickets.
type MarkdownRenderer struct {
	w io.Writer
}

func (r *MarkdownRenderer) RenderFanout(results []fanout.TargetResult) {
	fmt.Fprintf(r.w, "# Fan-out results\n\n")

	for _, res := range results {
		fmt.Fprintf(r.w, "## %s\n\n", res.Instance.Address)
		if res.Instance.Label != "" {
			fmt.Fprintf(r.w, "Label: `%s`\n\n", res.Instance.Label)
		}

		if res.Error != nil {
			fmt.Fprintf(r.w, "> **Error:** %s\n\n", res.Error.Message)
			continue
		}

		for _, set := range res.Output {
			fmt.Fprintf(r.w, "- Columns: `%s`\n", strings.Join(set.ColumnNames, ", "))
			fmt.Fprintf(r.w, "- Rows: %d\n", len(set.Rows))
			fmt.Fprintf(r.w, "- Time: %s\n", set.ExecutionTime)
			for _, w := range set.Warnings {
				fmt.Fprintf(r.w, "- **Warning:** %s\n", w)
			}
			fmt.Fprintln(r.w)
		}
	}
}

func (r *MarkdownRenderer) RenderTopologyStatus(topo topology.Topology) {
	fmt.Fprintf(r.w, "# Topology status: %s\n\n", topo.Name)
	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Kind | %s |\n", topo.Kind)
	fmt.Fprintf(r.w, "| Multi-primary | %v |\n", topo.MultiPrimary)
	fmt.Fprintf(r.w, "| Members | %d |\n\n", len(topo.Instances))

	fmt.Fprintf(r.w, "## Members\n\n")
	fmt.Fprintf(r.w, "| Address | Role | Version | Reachable |\n|---|---|---|---|\n")
	for _, inst := range topo.Instances {
		fmt.Fprintf(r.w, "| %s | %s | %s | %v |\n", inst.Address(), inst.Role, inst.Version, inst.Reachable())
	}
	fmt.Fprintln(r.w)
}

func (r *MarkdownRenderer) RenderProbe(conn mysqlconn.ConnectionConfig, info *topology.Info) {
	addr := fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	if conn.Socket != "" {
		addr = conn.Socket
	}
	fmt.Fprintf(r.w, "# Connection info: %s\n\n", addr)
	fmt.Fprintf(r.w, "| Property | Value |\n|---|---|\n")
	fmt.Fprintf(r.w, "| Version | %s |\n", info.Version.String())
	fmt.Fprintf(r.w, "| Topology | %s |\n", formatTopoType(info))
	fmt.Fprintf(r.w, "| Read only | %v |\n", info.ReadOnly)
	if info.IsCloudManaged {
		fmt.Fprintf(r.w, "| Cloud provider | %s |\n", info.CloudProvider)
	}
	fmt.Fprintln(r.w)
}

func (r *MarkdownRenderer) RenderUndo(summary UndoSummary) {
	fmt.Fprintf(r.w, "# Undo: %s\n\n", summary.Operation)
	if !summary.Applied {
		fmt.Fprintln(r.w, "This operation does not support undo.")
		return
	}
	fmt.Fprintf(r.w, "- Steps applied: %d\n", summary.StepCount)
	if summary.Error != "" {
		fmt.Fprintf(r.w, "- **Error:** %s\n", summary.Error)
	}
}
