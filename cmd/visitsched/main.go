package main

import "github.com/example/visit-scheduler/cmd"

func main() {
	cmd.Execute()
}
