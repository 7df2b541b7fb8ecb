package conf

import (
	"os"
	"strings"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configContent := `log:
  level: "debug"

pipeline:
  components:
    - name: src
      type: gen
      params:
        frames: "16"
    - name: sink
      type: "null"
  links:
    - from: "src:0"
      to: "sink:0"
`

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpfile.Name())

	if _, err := tmpfile.Write([]byte(configContent)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	cfg, err := LoadFromFile(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if lvl, err := cfg.Log.LevelInt(); err != nil || lvl != 1 {
		t.Errorf("Log.LevelInt() = %d, %v, want 1, nil", lvl, err)
	}
	if cfg.Slab.Frame == 0 {
		t.Error("Slab.Frame default was not applied")
	}
	if cfg.Pipeline.BufferNum < 3 {
		t.Errorf("Pipeline.BufferNum = %d, want >= 3", cfg.Pipeline.BufferNum)
	}
	if cfg.Pipeline.BufferSize < 16*1024 {
		t.Errorf("Pipeline.BufferSize = %d, want >= 16KB", cfg.Pipeline.BufferSize)
	}
	if cfg.Bridge != nil {
		t.Error("Bridge should stay nil when not configured")
	}
	if got := cfg.Pipeline.Components[0].Params["frames"]; got != "16" {
		t.Errorf("component params not preserved, got %q", got)
	}
}

func TestLoadRejectsBadPipelines(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no components",
			doc:  "pipeline: {}\n",
			want: "at least one component",
		},
		{
			name: "unknown type",
			doc: `pipeline:
  components:
    - name: x
      type: webcam
`,
			want: "type must be one of",
		},
		{
			name: "duplicate names",
			doc: `pipeline:
  components:
    - name: x
      type: gen
    - name: x
      type: "null"
`,
			want: "duplicate component name",
		},
		{
			name: "bad link endpoint",
			doc: `pipeline:
  components:
    - name: x
      type: gen
  links:
    - from: "x"
      to: "x:0"
`,
			want: "component:index",
		},
		{
			name: "link to unknown component",
			doc: `pipeline:
  components:
    - name: x
      type: gen
  links:
    - from: "x:0"
      to: "y:0"
`,
			want: "unknown component",
		},
		{
			name: "bridge without addr",
			doc: `pipeline:
  components:
    - name: x
      type: gen
bridge:
  transport: tcp
`,
			want: "bridge addr is required",
		},
		{
			name: "kcp without key",
			doc: `pipeline:
  components:
    - name: x
      type: gen
bridge:
  transport: kcp
  addr: "127.0.0.1:4000"
`,
			want: "KCP key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			if err == nil {
				t.Fatalf("Load accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		index   int
		wantErr bool
	}{
		{"src:0", "src", 0, false},
		{"cam2:12", "cam2", 12, false},
		{"src", "", 0, true},
		{":0", "", 0, true},
		{"src:x", "", 0, true},
		{"src:-1", "", 0, true},
	}
	for _, tt := range tests {
		name, index, err := ParseEndpoint(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && (name != tt.name || index != tt.index) {
			t.Errorf("ParseEndpoint(%q) = %q, %d, want %q, %d", tt.in, name, index, tt.name, tt.index)
		}
	}
}

func TestBridgeTransportDefaults(t *testing.T) {
	doc := `pipeline:
  components:
    - name: x
      type: gen
bridge:
  transport: kcp
  addr: "127.0.0.1:4000"
  kcp:
    key: "secret"
`
	cfg, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	k := cfg.Bridge.KCP
	if k.DataShards != 10 || k.ParityShards != 3 {
		t.Errorf("KCP shard defaults = %d/%d, want 10/3", k.DataShards, k.ParityShards)
	}
	if k.SndWnd != 1024 || k.RcvWnd != 1024 {
		t.Errorf("KCP window defaults = %d/%d, want 1024/1024", k.SndWnd, k.RcvWnd)
	}
	if k.Salt == "" {
		t.Error("KCP salt default was not applied")
	}
}
