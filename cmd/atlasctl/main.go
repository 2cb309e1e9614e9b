// Command atlasctl is a thin CLI over the engine's
// maintenance operation family: clear-all, vacuum, repair-relationships,
// export, import, and verify. The full tool/request surface
// (schema validation of the complete operation vocabulary, rate
// limiting, response formatting) lives outside this repository.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
