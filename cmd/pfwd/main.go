// Command pfwd is a supervised multi-protocol port forwarder: it bridges
// external TCP/UDP clients into services reachable from distinct Linux
// network namespaces, or proxies them directly.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
