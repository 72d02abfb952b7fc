// Command entitled runs the entitlement lifecycle engine.
package main

import (
	"os"

	"github.com/rewardline/entitle/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
