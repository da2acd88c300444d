package main

import "github.com/notargets/goplasma/cmd"

func main() {
	cmd.Execute()
}
