// Package netns implements the namespace entry primitive: open a network
// namespace file, pin a dedicated OS thread to it with setns(2), and run
// the caller's function on that thread. The thread is intentionally never
// returned to any pool afterward, since its namespace membership is
// permanently altered. setns(2) is Linux-specific; non-Linux builds get a
// stub that always fails, since pfwd's namespace-endpoint pipeline has
// nothing meaningful to do on other kernels.
package netns

import "path/filepath"

// Resolve turns a namespace reference into an absolute namespace file path:
// an absolute path is returned unchanged; anything else (a bare name or a
// relative path) is joined under /var/run/netns.
func Resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join("/var/run/netns", ref)
}
