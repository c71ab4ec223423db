// Package config holds pfwd's data model: the raw wire shape loaded from a
// file and CLI flags, the validated ForwardSpec and its four kinds, and the
// pure validator that turns one into the other.
package config

import (
	"path/filepath"

	libdur "github.com/nabbar/golib/duration"
	libptc "github.com/nabbar/golib/network/protocol"
)

// Kind tags a validated ForwardSpec with the pipeline variant it drives.
type Kind uint8

const (
	// KindNamespaceEndpoint requires NamespaceRef, UdsPath, TargetTcp.
	KindNamespaceEndpoint Kind = iota + 1
	// KindHostUdsProxy requires ListenTcp, UdsPath.
	KindHostUdsProxy
	// KindDirectTcpProxy requires ListenTcp, TargetTcp.
	KindDirectTcpProxy
	// KindDirectUdpProxy requires ListenUdp, TargetUdp.
	KindDirectUdpProxy
)

func (k Kind) String() string {
	switch k {
	case KindNamespaceEndpoint:
		return "namespace-endpoint"
	case KindHostUdsProxy:
		return "host-uds-proxy"
	case KindDirectTcpProxy:
		return "direct-tcp-proxy"
	case KindDirectUdpProxy:
		return "direct-udp-proxy"
	default:
		return "unknown"
	}
}

// Owner is a uid/gid pair applied to a freshly bound uds.
type Owner struct {
	Uid int
	Gid int
}

// DefaultUdsMode is applied to a uds when RawForward.UdsMode is zero.
const DefaultUdsMode = 0o600

// DefaultBacklog is applied when RawForward.Backlog is zero.
const DefaultBacklog = 128

// DefaultUdpIdleTimeout is applied when RawForward.UdpIdleTimeout is zero.
var DefaultUdpIdleTimeout = libdur.Seconds(600)

// RawForward is the pre-validation shape assembled from a config file entry
// merged with its matching CLI --forward flag (CLI wins field by field).
type RawForward struct {
	Label          string
	ListenTcp      string
	ListenUdp      string
	NamespaceRef   string
	UdsPath        string
	TargetTcp      string
	TargetUdp      string
	UdsMode        uint32
	UdsOwner       *Owner
	Backlog        int
	UdpIdleTimeout libdur.Duration
}

// ForwardSpec is one validated unit of work; it maps to exactly one
// pipeline, tagged by Kind.
type ForwardSpec struct {
	Label          string
	Kind           Kind
	Network        libptc.NetworkProtocol
	ListenTcp      string
	ListenUdp      string
	NamespaceRef   string
	UdsPath        string
	TargetTcp      string
	TargetUdp      string
	UdsMode        uint32
	UdsOwner       *Owner
	Backlog        int
	UdpIdleTimeout libdur.Duration
}

// Defaults holds the file's top-level defaults block.
type Defaults struct {
	LogLevel           string
	LogFormat          string
	UdsMode            uint32
	UdsOwner           *Owner
	UdsDir             string
	UdpIdleTimeoutSecs int64
}

// File is the top-level shape a loader (YAML via viper, or hand-assembled
// from CLI flags) must produce for Validate to consume.
type File struct {
	Defaults Defaults
	Forward  []RawForward
}

// applyDefaults fills zero-valued fields of r from d. It never overwrites a
// field the caller already set.
func applyDefaults(r RawForward, d Defaults) RawForward {
	if r.UdsMode == 0 {
		if d.UdsMode != 0 {
			r.UdsMode = d.UdsMode
		} else {
			r.UdsMode = DefaultUdsMode
		}
	}
	if r.UdsOwner == nil {
		r.UdsOwner = d.UdsOwner
	}
	if r.Backlog == 0 {
		r.Backlog = DefaultBacklog
	}
	if r.UdpIdleTimeout == 0 {
		if d.UdpIdleTimeoutSecs > 0 {
			r.UdpIdleTimeout = libdur.Seconds(d.UdpIdleTimeoutSecs)
		} else {
			r.UdpIdleTimeout = DefaultUdpIdleTimeout
		}
	}
	if r.UdsPath != "" && !filepath.IsAbs(r.UdsPath) && d.UdsDir != "" {
		r.UdsPath = filepath.Join(d.UdsDir, r.UdsPath)
	}
	return r
}
