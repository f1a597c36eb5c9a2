package main

import "github.com/rustyeddy/autotrader/internal/cli"

func main() {
	cli.Execute()
}
