// Command loyalty serves the QR credential, scan verification and redemption API.
package main

import (
	"log"

	"loyalty/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
