package main

import "github.com/calypsonet/keyple-calypso-go/cmd"

func main() {
	cmd.Execute()
}
