// Command orgsync mirrors a source of record into a cloud directory.
package main

import (
	"os"

	"github.com/roach88/orgsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
