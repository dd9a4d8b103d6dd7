package main

import "github.com/yukia3e/token-bound-wallet/cmd/tbawallet/cmd"

func main() {
	cmd.Execute()
}
