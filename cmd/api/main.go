package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/clashcode/arena/internal/app"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "arena: %v\n", err)
		os.Exit(1)
	}
}
