package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/mysqlconn"
	"github.com/clusterctl/core/internal/topology"
)

// JSONRenderer produces machine-readable JSON output.
type JSONRenderer struct {
	w io.Writer
}

type jsonTargetResult struct {
	Address string          `json:"address"`
	Label   string          `json:"label,omitempty"`
	Version string          `json:"version,omitempty"`
	Output  []jsonResultSet `json:"output,omitempty"`
	Error   *jsonTargetErr  `json:"error,omitempty"`
}

type jsonResultSet struct {
	ColumnNames   []string   `json:"columnNames"`
	Rows          [][]string `json:"rows"`
	Warnings      []string   `json:"warnings,omitempty"`
	ExecutionTime string     `json:"executionTime"`
}

type jsonTargetErr struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (r *JSONRenderer) RenderFanout(results []fanout.TargetResult) {
	out := make([]jsonTargetResult, 0, len(results))
	for _, res := range results {
		entry := jsonTargetResult{
			Address: res.Instance.Address,
			Label:   res.Instance.Label,
			Version: res.Instance.Version,
		}
		if res.Error != nil {
			entry.Error = &jsonTargetErr{Type: res.Error.Type, Message: res.Error.Message, Code: res.Error.Code}
		}
		for _, set := range res.Output {
			entry.Output = append(entry.Output, jsonResultSet{
				ColumnNames:   set.ColumnNames,
				Rows:          set.Rows,
				Warnings:      set.Warnings,
				ExecutionTime: set.ExecutionTime.String(),
			})
		}
		out = append(out, entry)
	}
	r.encode(out)
}

type jsonInstance struct {
	Address   string `json:"address"`
	Role      string `json:"role"`
	Version   string `json:"version,omitempty"`
	Reachable bool   `json:"reachable"`
}

type jsonTopologyStatus struct {
	Kind         string         `json:"kind"`
	Name         string         `json:"name"`
	MultiPrimary bool           `json:"multiPrimary"`
	Instances    []jsonInstance `json:"instances"`
}

func (r *JSONRenderer) RenderTopologyStatus(topo topology.Topology) {
	out := jsonTopologyStatus{
		Kind:         string(topo.Kind),
		Name:         topo.Name,
		MultiPrimary: topo.MultiPrimary,
	}
	for _, inst := range topo.Instances {
		out.Instances = append(out.Instances, jsonInstance{
			Address:   inst.Address(),
			Role:      string(inst.Role),
			Version:   inst.Version,
			Reachable: inst.Reachable(),
		})
	}
	r.encode(out)
}

type jsonUndoSummary struct {
	Operation string `json:"operation"`
	Applied   bool   `json:"applied"`
	StepCount int    `json:"stepCount,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r *JSONRenderer) RenderUndo(summary UndoSummary) {
	r.encode(jsonUndoSummary{
		Operation: summary.Operation,
		Applied:   summary.Applied,
		StepCount: summary.StepCount,
		Error:     summary.Error,
	})
}

type jsonProbe struct {
	Address        string `json:"address"`
	Version        string `json:"version"`
	Topology       string `json:"topology"`
	ReadOnly       bool   `json:"readOnly"`
	IsCloudManaged bool   `json:"isCloudManaged,omitempty"`
	CloudProvider  string `json:"cloudProvider,omitempty"`
}

func (r *JSONRenderer) RenderProbe(conn mysqlconn.ConnectionConfig, info *topology.Info) {
	addr := fmt.Sprintf("%s:%d", conn.Host, conn.Port)
	if conn.Socket != "" {
		addr = conn.Socket
	}
	r.encode(jsonProbe{
		Address:        addr,
		Version:        info.Version.String(),
		Topology:       string(info.Type),
		ReadOnly:       info.ReadOnly,
		IsCloudManaged: info.IsCloudManaged,
		CloudProvider:  info.CloudProvider,
	})
}

func (r *JSONRenderer) encode(v any) {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
