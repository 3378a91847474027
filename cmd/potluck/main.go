// Command potluck runs the social graph server.
package main

import (
	"os"

	"github.com/roach88/potluck/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
