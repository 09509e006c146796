package cluster

import (
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Version information - set at build time
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Metadata identifies this node for status reporting and logs.
type Metadata struct {
	NodeID    string    `json:"node_id"`
	Hostname  string    `json:"hostname"`
	Version   string    `json:"version"`
	GitCommit string    `json:"commit,omitempty"`
	BuildTime string    `json:"build_time,omitempty"`
	GoVersion string    `json:"go_version"`
	StartTime time.Time `json:"start_time"`
}

// NewMetadata creates node metadata with a fresh node ID.
func NewMetadata() *Metadata {
	hostname, _ := os.Hostname()
	return &Metadata{
		NodeID:    uuid.New().String(),
		Hostname:  hostname,
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		StartTime: time.Now(),
	}
}

// Uptime returns how long this node has been running.
func (m *Metadata) Uptime() time.Duration {
	return time.Since(m.StartTime)
}
