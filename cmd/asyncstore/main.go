// Command asyncstore issues key/value operations against a SQLite-backed
// asynchronous store through a single-flight dispatch queue.
package main

import (
	"os"

	"github.com/roach88/asyncstore/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
