// Command bblfr-webhook keeps the bblfr search alias in sync with the
// published dataset.
//
// Every trigger (a signed GitHub push hook, a Kafka message or the rebuild
// subcommand) reindexes the cities and baggers into a new timestamped
// generation, swaps the alias onto it and deletes the generations it
// replaced.
//
// Usage:
//
//	bblfr-webhook serve   [--config configs/development.yaml]
//	bblfr-webhook rebuild [--config configs/development.yaml]
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
