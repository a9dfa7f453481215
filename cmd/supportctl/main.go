package main

import "github.com/whisper/support-chat/internal/cli"

func main() {
	cli.Execute()
}
