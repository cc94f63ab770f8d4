package main

import "github.com/psp-hub/platform/cmd/hubctl/cmd"

func main() {
	cmd.Execute()
}
