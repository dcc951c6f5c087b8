// The main package for the vacancy-ingest executable.
package main

import (
	"github.com/JakeFAU/vacancy-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
