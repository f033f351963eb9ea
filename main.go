package main

import "mproxy/cmd"

func main() {
	cmd.Execute()
}
