// Command istgtd starts the iSCSI target server described in this
// module's protocol engine packages under internal/iscsi.
package main

import (
	"fmt"
	"os"

	"github.com/istgtd/istgtd/cmd/istgtd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "istgtd:", err)
		os.Exit(1)
	}
}
