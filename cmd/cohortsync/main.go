// cmd/cohortsync/main.go
//
// Command cohortsync runs the enrollment sync service: commerce hooks in,
// group enrollments and notifications out.
package main

import (
	"context"
	"log"

	"github.com/dalemusser/cohortsync/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		log.Fatal(err)
	}
}
