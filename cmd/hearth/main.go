package main

import (
	"os"

	"hearth/cmd/hearth/commands"
)

func main() {
	os.Exit(commands.Execute())
}
