package main

import "github.com/kozaktomas/facecam/cmd"

func main() {
	cmd.Execute()
}
