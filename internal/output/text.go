package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
)

// TextRenderer produces Lip Gloss styled terminal output.
type TextRenderer struct {
	w io.Writer
}

func (r *TextRenderer) RenderFanout(results []fanout.TargetResult) {
	width := 60
	fmt.Fprintln(r.w)

	for _, res := range results {
		label := res.Instance.Address
		if res.Instance.Label != "" {
			label = fmt.Sprintf("%s (%s)", res.Instance.Label, res.Instance.Address)
		}
		title := TitleStyle.Render(label)

		if res.Error != nil {
			box := DangerBoxStyle.Width(width).Render(title + "\n" + DangerText.Render(IconDanger+" "+res.Error.Message))
			fmt.Fprintln(r.w, box)
			continue
		}

		var lines []string
		for _, set := range res.Output {
			lines = append(lines, r.labelValue("Columns:", strings.Join(set.ColumnNames, ", ")))
			lines = append(lines, r.labelValue("Rows:", fmt.Sprintf("%d", len(set.Rows))))
			lines = append(lines, r.labelValue("Time:", set.ExecutionTime.String()))
			for _, w := range set.Warnings {
				lines = append(lines, WarningText.Render(IconWarning+" "+w))
			}
		}
		box := BoxStyle.Width(width).Render(title + "\n" + strings.Join(lines, "\n"))
		fmt.Fprintln(r.w, box)
	}
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderTopologyStatus(topo topology.Topology) {
	width := 60
	fmt.Fprintln(r.w)

	lines := []string{
		r.labelValue("Kind:", string(topo.Kind)),
		r.labelValue("Name:", topo.Name),
		r.labelValue("Multi-primary:", fmt.Sprintf("%v", topo.MultiPrimary)),
		r.labelValue("Members:", fmt.Sprintf("%d", len(topo.Instances))),
	}

	title := TitleStyle.Render("Topology Status")
	box := BoxStyle.Width(width).Render(title + "\n" + strings.Join(lines, "\n"))
	fmt.Fprintln(r.w, box)

	for _, inst := range topo.Instances {
		memberLines := []string{
			r.labelValue("Address:", inst.Address()),
			r.labelValue("Role:", string(inst.Role)),
			r.labelValue("Version:", inst.Version),
			r.labelValue("Reachable:", fmt.Sprintf("%v", inst.Reachable())),
		}
		style := SafeBoxStyle
		if !inst.Reachable() {
			style = DangerBoxStyle
		}
		memberBox := style.Width(width).Render(strings.Join(memberLines, "\n"))
		fmt.Fprintln(r.w, memberBox)
	}
	fmt.Fprintln(r.w)
}

func (r *TextRenderer) RenderUndo(summary UndoSummary) {
	title := TitleStyle.Render("Undo — " + summary.Operation)
	style := SafeBoxStyle

	var lines []string
	if !summary.Applied {
		style = WarningBoxStyle
		lines = append(lines, WarningText.Render(IconWarning+" this operation does not support undo"))
	} else {
		lines = append(lines, r.labelValue("Steps applied:", fmt.Sprintf("%d", summary.StepCount)))
		if summary.Error != "" {
			style = DangerBoxStyle
			lines = append(lines, DangerText.Render(IconDanger+" "+summary.Error))
		}
	}

	box := style.Width(60).Render(title + "\n" + strings.Join(lines, "\n"))
	fmt.Fprintln(r.w, box)
}

func (r *TextRenderer) labelValue(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

func (r *TextRenderer) RenderProbe(conn mysqlconn.ConnectionConfig, info *topology.Info) {
	width := 60
	fmt.Fprintln(r.w)

	addr := fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	if conn.Socket != "" {
		addr = conn.Socket
	}

	var lines []string
	lines = append(lines, r.labelValue("Connected to:", addr))
	lines = append(lines, r.labelValue("Server version:", info.Version.String()))
	lines = append(lines, r.labelValue("Topology:", formatTopoType(info)))

	switch info.Type {
	case topology.Galera:
		lines = append(lines, r.labelValue("Cluster size:", fmt.Sprintf("%d nodes", info.GaleraClusterSize)))
		lines = append(lines, r.labelValue("Node state:", info.GaleraNodeState))
		lines = append(lines, r.labelValue("wsrep_OSU_method:", info.GaleraOSUMethod))
		lines = append(lines, r.labelValue("wsrep_max_ws_size:", fmt.Sprintf("%d (%s)", info.WsrepMaxWsSize, humanBytes(info.WsrepMaxWsSize))))
		lines = append(lines, r.labelValue("Flow control:", info.FlowControlPausedPct))
	case topology.GroupRepl:
		lines = append(lines, r.labelValue("Mode:", info.GRMode))
		lines = append(lines, r.labelValue("Members:", fmt.Sprintf("%d online", info.GRMemberCount)))
		lines = append(lines, r.labelValue("Role:", info.GRMemberRole))
		if info.GRTransactionLimit > 0 {
			lines = append(lines, r.labelValue("TX size limit:", humanBytes(info.GRTransactionLimit)))
		}
	case topology.AsyncReplica, topology.SemiSyncReplica:
		if info.IsReplica {
			lag := "N/A"
			if info.ReplicaLagSecs != nil {
				lag = fmt.Sprintf("%d seconds", *info.ReplicaLagSecs)
			}
			lines = append(lines, r.labelValue("Replica lag:", lag))
		}
		if info.IsPrimary {
			lines = append(lines, r.labelValue("Role:", "Primary (has replicas)"))
		}
	}
	if info.IsCloudManaged {
		lines = append(lines, r.labelValue("Cloud provider:", info.CloudProvider))
	}

	lines = append(lines, r.labelValue("Read only:", fmt.Sprintf("%v", info.ReadOnly)))

	title := TitleStyle.Render("clusterctl — Connection Info")
	box := SafeBoxStyle.Width(width).Render(title + "\n" + strings.Join(lines, "\n"))
	fmt.Fprintln(r.w, box)
	fmt.Fprintln(r.w)
}

func formatTopoType(info *topology.Info) string {
	switch info.Type {
	case topology.Galera:
		return fmt.Sprintf("Percona XtraDB Cluster (%d nodes)", info.GaleraClusterSize)
	case topology.GroupRepl:
		return fmt.Sprintf("Group Replication (%s, %d members)", info.GRMode, info.GRMemberCount)
	case topology.AsyncReplica:
		return "Async Replication"
	case topology.SemiSyncReplica:
		return "Semi-sync Replication"
	case topology.AuroraWriter:
		return "Aurora (writer)"
	case topology.AuroraReader:
		return "Aurora (reader)"
	default:
		return "Standalone"
	}
}

func humanBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
