package main

import (
	"log"

	"github.com/glimte/mmate-outbound/cmd/mmate-send/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
