package main

import "github.com/nextlevelbuilder/agentbus/cmd"

func main() {
	cmd.Execute()
}
