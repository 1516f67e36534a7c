// Package main provides the entry point for the bookingsync CLI.
package main

import (
	"github.com/colthorp/bookingsync-go/internal/cli"
)

func main() {
	cli.Execute()
}
