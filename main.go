package main

import "github.com/creativeprojects/gbackup/cmd"

// set by the build
var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "go build"
)

func main() {
	cmd.Execute(version, commit, date, builtBy)
}
