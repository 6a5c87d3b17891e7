package main

import (
	"github.com/sloonz/shelvery/cmd"
)

func main() {
	cmd.Execute()
}
