package main

import "github.com/sergev/pulsesensor/cmd"

func main() {
	cmd.Execute()
}
