// The main package for the gamecrawl executable.
package main

import (
	"github.com/JakeFAU/game-reviews-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
