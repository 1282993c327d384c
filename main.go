package main

import (
	"github.com/helpthread/helpthread/cmd"
)

// version is set by the release build.
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
