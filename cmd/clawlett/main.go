package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/MithrandirBalrog/Clawlett/internal/app"
)

func main() {
	// A local .env may carry CLAWLETT_* signer settings; absence is fine.
	_ = godotenv.Load()
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
