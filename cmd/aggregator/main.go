// Command aggregator runs the federated learning round coordinator: it
// subscribes to the ledger's event stream, drives rounds through the
// OPEN→COLLECTING→PROCESSING→COMPLETED→REMOVED state machine, aggregates
// accepted submissions with reputation-weighted FedAvg, and serves a
// read-only observability API over the resulting state.
//
// This is a thin wrapper around `fx run` (see cmd/fx and pkg/cli) for
// deployments that want a single-purpose binary rather than the full fx CLI.
package main

import (
	"log"
	"os"

	"github.com/fl-team8/aggregator/pkg/cli"
)

func main() {
	if err := cli.HandleRunCommand(os.Args[1:]); err != nil {
		log.Fatalf("[AGGREGATOR] ❌ %v", err)
	}
}
