package main

import "github.com/kozaktomas/facepay/cmd"

func main() {
	cmd.Execute()
}
