package main

import "repovet/cmd"

func main() {
	cmd.Execute()
}
