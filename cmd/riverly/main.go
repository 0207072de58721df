package main

import "github.com/riverly-dev/riverly/pkg/cli"

func main() {
	cli.Execute()
}
