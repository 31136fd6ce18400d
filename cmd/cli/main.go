package main

import (
	"os"

	"github.com/alanmaizon/taskplan/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
