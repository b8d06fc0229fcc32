package main

import "github.com/emrgen/cdr/cmd"

func main() {
	cmd.Execute()
}
