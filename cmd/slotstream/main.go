package main

import "github.com/mrevell/slotstream/cmd/slotstream/cmd"

func main() {
	cmd.Execute()
}
