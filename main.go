// Command syncengine is the CLI front-end driving full/incremental syncs,
// conflict resolution, and schema maintenance against a registered entity
// family. Grounded on the teacher's root.go/sync.go command tree shape,
// generalized from one OneDrive drive to an arbitrary family name.
package main

import (
	"fmt"
	"os"

	"github.com/brightloom/syncengine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.ExitCodeFor(err))
	}
}
