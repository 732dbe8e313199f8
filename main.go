// The main package for the leetcrawl executable.
package main

import (
	"github.com/probelab/leetcrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
