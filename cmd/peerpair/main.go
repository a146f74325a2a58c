package main

import (
	"os"

	"github.com/arloliu/peerpair/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
