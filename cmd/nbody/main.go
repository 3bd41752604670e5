// Command nbody runs a distributed Barnes-Hut N-body gravitational
// simulation as a single process simulating its own process group.
package main

import (
	"github.com/nbody-sim/barnes-hut/cmd/nbody/cmd"
)

func main() {
	cmd.Execute()
}
