package main

import "meter-determinants/internal/cli"

func main() {
	cli.Execute()
}
