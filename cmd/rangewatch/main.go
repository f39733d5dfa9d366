package main

import "rangewatch/internal/cli"

func main() {
	cli.Execute()
}
