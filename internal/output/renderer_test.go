package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/clusterctl/core/internal/fanout"
	"github.com/clusterctl/core/internal/metadata"
	"github.com/clusterctl/core/internal/topology"
)

func sampleFanoutResults() []fanout.TargetResult {
	return []fanout.TargetResult{
		{
			Instance: fanout.InstanceRef{Address: "10.0.0.5:3306", Label: "primary", Version: "8.0.34"},
			Output: []fanout.ResultSet{{
				ColumnNames:   []string{"id", "name"},
				Rows:          [][]string{{"1", "alice"}},
				ExecutionTime: 12 * time.Millisecond,
			}},
		},
		{
			Instance: fanout.InstanceRef{Address: "10.0.0.6:3306"},
			Error:    &fanout.TargetError{Type: "mysqlsh", Message: "Instance isn't reachable."},
		},
	}
}

func sampleTopology() topology.Topology {
	return topology.Topology{
		TopologyRow: metadata.TopologyRow{ID: "c1", Kind: metadata.KindCluster, Name: "prod-cluster"},
		Instances: []topology.Instance{
			{InstanceRow: metadata.InstanceRow{UUID: "u1", Host: "10.0.0.5", Port: 3306, Role: metadata.RoleClusterPrimary, Version: "8.0.34"}},
			{InstanceRow: metadata.InstanceRow{UUID: "u2", Host: "10.0.0.6", Port: 3306, Role: metadata.RoleClusterSecondary}},
		},
	}
}

func TestTextRenderer_RenderFanout(t *testing.T) {
	var buf bytes.Buffer
	r := &TextRenderer{w: &buf}
	r.RenderFanout(sampleFanoutResults())

	out := buf.String()
	if !strings.Contains(out, "10.0.0.5:3306") {
		t.Errorf("expected output to mention the reachable target, got: %s", out)
	}
	if !strings.Contains(out, "Instance isn't reachable.") {
		t.Errorf("expected output to mention the unreachable error, got: %s", out)
	}
}

func TestPlainRenderer_RenderFanout(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderFanout(sampleFanoutResults())

	out := buf.String()
	if !strings.Contains(out, "Rows:    1") {
		t.Errorf("expected row count in plain output, got: %s", out)
	}
	if !strings.Contains(out, "ERROR:   Instance isn't reachable.") {
		t.Errorf("expected error line in plain output, got: %s", out)
	}
}

func TestJSONRenderer_RenderFanout(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderFanout(sampleFanoutResults())

	var decoded []jsonTargetResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("RenderFanout did not produce valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded))
	}
	if decoded[0].Address != "10.0.0.5:3306" {
		t.Errorf("expected first entry address 10.0.0.5:3306, got %q", decoded[0].Address)
	}
	if decoded[1].Error == nil || decoded[1].Error.Message != "Instance isn't reachable." {
		t.Errorf("expected second entry to carry the unreachable error, got %+v", decoded[1].Error)
	}
}

func TestJSONRenderer_RenderTopologyStatus(t *testing.T) {
	var buf bytes.Buffer
	r := &JSONRenderer{w: &buf}
	r.RenderTopologyStatus(sampleTopology())

	var decoded jsonTopologyStatus
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("RenderTopologyStatus did not produce valid JSON: %v", err)
	}
	if decoded.Kind != "Cluster" {
		t.Errorf("expected kind Cluster, got %q", decoded.Kind)
	}
	if len(decoded.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(decoded.Instances))
	}
}

func TestMarkdownRenderer_RenderTopologyStatus(t *testing.T) {
	var buf bytes.Buffer
	r := &MarkdownRenderer{w: &buf}
	r.RenderTopologyStatus(sampleTopology())

	out := buf.String()
	if !strings.Contains(out, "prod-cluster") {
		t.Errorf("expected topology name in markdown output, got: %s", out)
	}
	if !strings.Contains(out, "| 10.0.0.5:3306 |") {
		t.Errorf("expected member address row in markdown table, got: %s", out)
	}
}

func TestRenderUndo_NotApplied(t *testing.T) {
	var buf bytes.Buffer
	r := &PlainRenderer{w: &buf}
	r.RenderUndo(UndoSummary{Operation: "removeInstance", Applied: false})

	if !strings.Contains(buf.String(), "does not support undo") {
		t.Errorf("expected the undo-unsupported note, got: %s", buf.String())
	}
}

func TestNewRenderer_SelectsByFormat(t *testing.T) {
	var buf bytes.Buffer
	cases := map[string]any{
		"json":     &JSONRenderer{},
		"markdown": &MarkdownRenderer{},
		"plain":    &PlainRenderer{},
		"text":     &TextRenderer{},
		"":         &TextRenderer{},
	}
	for format, want := range cases {
		got := NewRenderer(format, &buf)
		gotType := typeName(got)
		wantType := typeName(want)
		if gotType != wantType {
			t.Errorf("NewRenderer(%q) = %s, want %s", format, gotType, wantType)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *JSONRenderer:
		return "json"
	case *MarkdownRenderer:
		return "markdown"
	case *PlainRenderer:
		return "plain"
	case *TextRenderer:
		return "text"
	default:
		return "unknown"
	}
}
