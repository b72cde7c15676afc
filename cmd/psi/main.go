package main

import (
	"fmt"
	"os"
)

func main() {
	if err := CLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "psi: %v\n", err)
		os.Exit(1)
	}
}
