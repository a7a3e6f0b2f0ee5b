package main

import (
	"os"

	"github.com/esdm-project/esdm/cmd/esdmd"
)

func main() {
	os.Exit(esdmd.Run(os.Args[1:]))
}
