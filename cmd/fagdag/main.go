// Command fagdag indexes a directory of documents and answers questions
// about them.
package main

import (
	"os"

	"github.com/custodia-labs/fagdag/internal/adapters/driving/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
