package models

import "time"

type ResolverMode string

const (
	ModeFile    ResolverMode = "file"
	ModeNginx   ResolverMode = "nginx"
	ModeBuiltin ResolverMode = "builtin_server"
)

type ChartArtifact struct {
	LocalPath   string       `json:"local_path"`
	ResolvedURL string       `json:"resolved_url"`
	Mode        ResolverMode `json:"mode"`
}

// ProxyConfig mirrors server.json.
type ProxyConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	ChartsDir string `json:"charts_dir" yaml:"charts_dir"`
	UseHTTPS  bool   `json:"use_https" yaml:"use_https"`
}

// BuiltinServerConfig mirrors html_server.json.
type BuiltinServerConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	ServerHost     string `json:"server_host" yaml:"server_host"`
	ServerPort     int    `json:"server_port" yaml:"server_port"`
	ChartsDir      string `json:"charts_dir" yaml:"charts_dir"`
	UseEC2Metadata bool   `json:"use_ec2_metadata" yaml:"use_ec2_metadata"`
	UsePublicIP    bool   `json:"use_public_ip" yaml:"use_public_ip"`
}

// Requested reports whether server mode was asked for in any form.
func (b BuiltinServerConfig) Requested() bool {
	return b.Enabled || b.UseEC2Metadata || b.UsePublicIP
}

// ResolverConfig is passed explicitly to the URL resolver on every call.
type ResolverConfig struct {
	ChartsDir string
	Proxy     ProxyConfig
	Builtin   BuiltinServerConfig
}

// State is a step of the orchestration state machine.
type State string

const (
	StateSubmitting  State = "submitting"
	StateListening   State = "listening"
	StateAggregating State = "aggregating"
	StateRendering   State = "rendering"
	StateResolving   State = "resolving"
	StateDone        State = "done"
	StateErrored     State = "errored"
)

// Outcome is what callers receive; ChartURL or Error is always set.
type Outcome struct {
	RequestID   string            `json:"request_id,omitempty"`
	JobID       string            `json:"job_id,omitempty"`
	Success     bool              `json:"success"`
	ChartURL    string            `json:"chart_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	State       State             `json:"state"`
	Termination Termination       `json:"termination,omitempty"`
	Artifact    *ChartArtifact    `json:"artifact,omitempty"`
	Result      *AggregatedResult `json:"result,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// Pending is the placeholder stored for queued requests.
func PendingOutcome(requestID string, at time.Time) *Outcome {
	return &Outcome{RequestID: requestID, State: StateSubmitting, Error: "queued", StartedAt: at}
}
