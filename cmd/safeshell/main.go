package main

import "github.com/safeshell-dev/safeshell/internal/cli"

func main() {
	cli.Execute()
}
