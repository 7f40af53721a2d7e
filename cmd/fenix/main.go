package main

import (
	"context"
	"os"

	_ "time/tzdata"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
