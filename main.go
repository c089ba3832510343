// The main package for the scholar-badge executable.
package main

import (
	"github.com/JakeFAU/scholar-badge/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
