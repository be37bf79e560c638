package main

import (
	"example.com/platform/services/eventcore/cmd"
)

func main() {
	cmd.Execute()
}
