// Command opsloop drives a planning model against remote hosts over SSH,
// executing only the commands a policy profile allows.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "opsloop:", err)
		os.Exit(1)
	}
}
