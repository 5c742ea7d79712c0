package main

import "github.com/jacentio/arbor/cmd"

func main() {
	cmd.Execute()
}
