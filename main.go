// The main package for the transfermkt-ingest executable.
package main

import (
	"github.com/mlsdata/transfermkt-ingest/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
