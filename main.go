package main

import "github.com/hearthmap/hearthmap/internal/cmd"

func main() {
	cmd.Execute()
}
