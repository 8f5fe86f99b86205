package main

import (
	"github.com/sw33tLie/airscope/cmd"
)

func main() {
	cmd.Execute()
}
