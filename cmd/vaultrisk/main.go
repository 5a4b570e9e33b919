package main

import "vault-risk-backtest/internal/cli"

func main() {
	cli.Execute()
}
