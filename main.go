package main

import "github.com/sempr/labjudge/cmd"

func main() {
	cmd.Execute()
}
