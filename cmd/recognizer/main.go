package main

import "github.com/Cirno10124/stream-recognizer-go/cmd/recognizer/cmd"

func main() {
	cmd.Execute()
}
