// Package pfwderr declares the typed error codes shared by every pfwd
// component, built on nabbar/golib's HTTP-status-like CodeError convention
// instead of bare errors.New.
package pfwderr

import (
	liberr "github.com/nabbar/golib/errors"
)

const (
	// ConfigInvalid marks a ForwardSpec that failed validation.
	ConfigInvalid liberr.CodeError = iota + 1001
	// AmbiguousKind marks a spec whose fields fit more than one kind:
	// listen_tcp with both uds_path and target_tcp, or namespace_ref
	// combined with a listen address.
	AmbiguousKind
	// BindFailed marks a listener that could not be created.
	BindFailed
	// NamespaceEnterFailed marks a setns(2) or namespace file open failure.
	NamespaceEnterFailed
	// StaleNonSocketPath marks a uds path occupied by a non-socket file.
	StaleNonSocketPath
	// UdsDialRetryable marks a dial failure against a uds target that the
	// backoff loop should retry.
	UdsDialRetryable
	// UpstreamDialFailed marks a non-retryable upstream dial failure.
	UpstreamDialFailed
	// CopyError marks an I/O failure during a splice or relay copy.
	CopyError
	// UdpSendDropped marks a UDP datagram dropped under backpressure.
	UdpSendDropped
)

func init() {
	liberr.RegisterIdFctMessage(ConfigInvalid, func(_ liberr.CodeError) string {
		return "forward spec failed validation"
	})
	liberr.RegisterIdFctMessage(AmbiguousKind, func(_ liberr.CodeError) string {
		return "forward spec mixes namespace and direct forwarding fields"
	})
	liberr.RegisterIdFctMessage(BindFailed, func(_ liberr.CodeError) string {
		return "listener bind failed"
	})
	liberr.RegisterIdFctMessage(NamespaceEnterFailed, func(_ liberr.CodeError) string {
		return "failed to enter target network namespace"
	})
	liberr.RegisterIdFctMessage(StaleNonSocketPath, func(_ liberr.CodeError) string {
		return "uds path is occupied by a non-socket file"
	})
	liberr.RegisterIdFctMessage(UdsDialRetryable, func(_ liberr.CodeError) string {
		return "uds dial failed, retryable"
	})
	liberr.RegisterIdFctMessage(UpstreamDialFailed, func(_ liberr.CodeError) string {
		return "upstream dial failed"
	})
	liberr.RegisterIdFctMessage(CopyError, func(_ liberr.CodeError) string {
		return "copy between connections failed"
	})
	liberr.RegisterIdFctMessage(UdpSendDropped, func(_ liberr.CodeError) string {
		return "udp datagram dropped under backpressure"
	})
}
