package main

import "github.com/strrl/chatdeck/cmd/chatdeck/commands"

func main() {
	commands.Execute()
}
