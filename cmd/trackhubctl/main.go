package main

import "trackhub/cmd/cli"

func main() {
	cli.Execute()
}
