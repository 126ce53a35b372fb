// Package main is the single-binary entrypoint for soma.
package main

import "github.com/soma-network/soma/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
