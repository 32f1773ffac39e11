package main

import "github.com/rpcgate/rpcgate/cmd/rpcgate/cmd"

func main() {
	cmd.Execute()
}
