package main

import "floorwatch/internal/cli"

func main() {
	cli.Execute()
}
