package main

import "github.com/RamXX/bmdash/cmd"

func main() {
	cmd.Execute()
}
