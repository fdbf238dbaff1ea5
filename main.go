package main

import (
	"github.com/luma/stash/cmd"
)

func main() {
	cmd.Execute()
}
