// The main package for the lawharvest executable.
package main

import (
	"github.com/socialtoolkit/lawharvest/internal/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
