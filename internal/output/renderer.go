package output

import (
	"io"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
)

// UndoSummary is what a topology operation reports about its undo list
// after a partial failure (§4.4: "every statement is accompanied by its
// inverse"). Applied is false when the operation doesn't support undo at
// all (§4.3.2's RemoveMember, for instance).
type UndoSummary struct {
	Operation string
	Applied   bool
	StepCount int
	Error     string
}

// Renderer is the output-format interface every command result goes
// through before reaching the terminal.
type Renderer interface {
	RenderFanout(results []fanout.TargetResult)
	RenderTopologyStatus(topo topology.Topology)
	RenderUndo(summary UndoSummary)
	// RenderProbe shows the raw topology Detect() found on a single
	// connection, before it's joined to (or outside of) any managed
	// Cluster/ReplicaSet/ClusterSet. Used by `clusterctl connect`.
	RenderProbe(conn mysqlconn.ConnectionConfig, info *topology.Info)
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format string, w io.Writer) Renderer {
	switch format {
	case "json":
		return &JSONRenderer{w: w}
	case "markdown":
		return &MarkdownRenderer{w: w}
	case "plain":
		return &PlainRenderer{w: w}
	default:
		return &TextRenderer{w: w}
	}
}
