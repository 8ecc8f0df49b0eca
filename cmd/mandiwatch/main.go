package main

import "mandiwatch/internal/cli"

func main() {
	cli.Execute()
}
