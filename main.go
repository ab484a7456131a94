package main

import "github.com/veridate/faceseek/cmd"

func main() {
	cmd.Execute()
}
