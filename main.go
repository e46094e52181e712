package main

import "github.com/soloqueue/soloqueue/cmd"

func main() {
	cmd.Execute()
}
