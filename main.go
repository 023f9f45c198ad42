// The main package for the review-harvester executable.
package main

import (
	"github.com/JakeFAU/review-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
