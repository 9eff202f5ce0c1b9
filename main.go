// The main package for the tapo-directory executable.
package main

import (
	"github.com/cavefire/Tapo-Directory/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
