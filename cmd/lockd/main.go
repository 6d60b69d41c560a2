// Command lockd serves a lock manager over HTTP and talks to a running
// server from the command line.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
