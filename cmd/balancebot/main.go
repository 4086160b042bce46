package main

import "github.com/perchlabs-io/balance-bot/internal/cli"

func main() {
	cli.Execute()
}
