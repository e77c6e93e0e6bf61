// Package main is the entrypoint for pmres, the SoC shared-resource power manager.
package main

import "github.com/socpm/pmres/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
