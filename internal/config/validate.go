package config

import (
	"fmt"

	liberr "github.com/nabbar/golib/errors"
	libptc "github.com/nabbar/golib/network/protocol"

	"github.com/FakeKuryr/pfwd/internal/pfwderr"
)

// Validate turns a file's raw forward list into the validated, kind-tagged
// ForwardSpec list, applying defaults and the rules of §4.1 in order. It is
// pure and deterministic: it never touches the filesystem or the network.
// On the first rejected entry it returns a nil list and an error wrapping
// pfwderr.ConfigInvalid or pfwderr.AmbiguousKind whose message names the
// offending entry's label and index.
func Validate(f File) ([]ForwardSpec, error) {
	seenUdsForNamespace := make(map[string]int, len(f.Forward))
	out := make([]ForwardSpec, 0, len(f.Forward))

	for i, raw := range f.Forward {
		r := applyDefaults(raw, f.Defaults)

		hasNamespace := r.NamespaceRef != ""
		hasListenTcp := r.ListenTcp != ""
		hasListenUdp := r.ListenUdp != ""
		hasUds := r.UdsPath != ""
		hasTargetTcp := r.TargetTcp != ""
		hasTargetUdp := r.TargetUdp != ""

		// rule (f): namespace_ref without uds_path is rejected.
		if hasNamespace && !hasUds {
			return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
				"namespace_ref requires uds_path")
		}

		// rule (a) part 1: uds_path required whenever the spec mentions a
		// namespace (covered above) or when listen_tcp is set without
		// target_tcp.
		if hasListenTcp && !hasTargetTcp && !hasUds {
			return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
				"listen_tcp without target_tcp requires uds_path")
		}

		// rule (b): listen_tcp must be paired with exactly one of uds_path
		// or target_tcp.
		if hasListenTcp {
			switch {
			case hasUds && hasTargetTcp:
				return nil, fieldErr(i, r.Label, pfwderr.AmbiguousKind,
					"listen_tcp cannot pair with both uds_path and target_tcp")
			case !hasUds && !hasTargetTcp:
				return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
					"listen_tcp requires uds_path or target_tcp")
			}
		}

		// rule (c): target_tcp required for NamespaceEndpoint.
		if hasNamespace && !hasTargetTcp {
			return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
				"namespace_ref requires target_tcp")
		}

		// rule (d): listen_udp iff target_udp.
		if hasListenUdp != hasTargetUdp {
			return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
				"listen_udp and target_udp must be set together")
		}

		// rule (e): udp_idle_timeout must be strictly positive.
		if hasListenUdp && r.UdpIdleTimeout <= 0 {
			return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
				"udp_idle_timeout must be strictly positive")
		}

		// Open question resolution (spec.md §9): listen_tcp/listen_udp
		// combined with namespace_ref on the same spec is ambiguous.
		if hasNamespace && (hasListenTcp || hasListenUdp) {
			return nil, fieldErr(i, r.Label, pfwderr.AmbiguousKind,
				"namespace_ref cannot be combined with listen_tcp or listen_udp on the same spec")
		}

		kind, network, err := classify(hasNamespace, hasListenTcp, hasListenUdp, hasUds, hasTargetTcp, hasTargetUdp)
		if err != nil {
			return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid, err.Error())
		}

		// rule (g): duplicate uds_path across two NamespaceEndpoint specs
		// is rejected.
		if kind == KindNamespaceEndpoint {
			if prev, ok := seenUdsForNamespace[r.UdsPath]; ok {
				return nil, fieldErr(i, r.Label, pfwderr.ConfigInvalid,
					fmt.Sprintf("uds_path %q duplicated with namespace-endpoint spec at index %d", r.UdsPath, prev))
			}
			seenUdsForNamespace[r.UdsPath] = i
		}

		label := r.Label
		if label == "" {
			label = fmt.Sprintf("forward-%d", i)
		}

		out = append(out, ForwardSpec{
			Label:          label,
			Kind:           kind,
			Network:        network,
			ListenTcp:      r.ListenTcp,
			ListenUdp:      r.ListenUdp,
			NamespaceRef:   r.NamespaceRef,
			UdsPath:        r.UdsPath,
			TargetTcp:      r.TargetTcp,
			TargetUdp:      r.TargetUdp,
			UdsMode:        r.UdsMode,
			UdsOwner:       r.UdsOwner,
			Backlog:        r.Backlog,
			UdpIdleTimeout: r.UdpIdleTimeout,
		})
	}

	return out, nil
}

// classify derives the disjoint spec kind from the presence/absence of
// fields, per spec.md §3's four kind definitions.
func classify(hasNamespace, hasListenTcp, hasListenUdp, hasUds, hasTargetTcp, hasTargetUdp bool) (Kind, libptc.NetworkProtocol, error) {
	switch {
	case hasNamespace && hasUds && hasTargetTcp && !hasListenTcp:
		return KindNamespaceEndpoint, libptc.NetworkUnix, nil
	case hasListenTcp && hasUds && !hasTargetTcp && !hasNamespace:
		return KindHostUdsProxy, libptc.NetworkTCP, nil
	case hasListenTcp && hasTargetTcp && !hasUds && !hasNamespace:
		return KindDirectTcpProxy, libptc.NetworkTCP, nil
	case hasListenUdp && hasTargetUdp && !hasListenTcp && !hasNamespace:
		return KindDirectUdpProxy, libptc.NetworkUDP, nil
	default:
		return 0, 0, fmt.Errorf("field combination matches no known spec kind")
	}
}

// fieldErr wraps a pfwderr code with the index/label of the offending entry
// and a field-level reason, so a validate-only run can point the operator at
// exactly which forward entry failed and why.
func fieldErr(index int, label string, code liberr.CodeError, reason string) error {
	if label == "" {
		label = fmt.Sprintf("forward-%d", index)
	}
	return code.Error(fmt.Errorf("spec %q (index %d): %s", label, index, reason))
}
