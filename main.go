package main

import "github.com/oasisprotocol/vaulthub/cmd"

func main() {
	cmd.Execute()
}
