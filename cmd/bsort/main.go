// Command bsort detects bottle caps and sorts them by colour.
package main

import (
	"os"

	"github.com/ayusman/bsort/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
