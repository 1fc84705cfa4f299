// Command stubapi runs the in-memory stand-in for the trusted platform
// backend, for local development of the gateway. It seeds a demo tenant and
// prints the identifiers needed to mint a session.
package main

import (
	"net/http"
	"os"
	"time"

	"mealdesk.org/internal/obs"
	"mealdesk.org/internal/stub"
)

func main() {
	log := obs.InitLogger(os.Stdout, os.Getenv("MEALDESK_LOG_LEVEL"))

	addr := os.Getenv("MEALDESK_STUB_ADDR")
	if addr == "" {
		addr = ":8081"
	}

	s, err := stub.New()
	if err != nil {
		log.Fatal().Err(err).Msg("build stub")
	}
	companyID, userID := s.SeedDemo()
	log.Info().
		Str("company_id", companyID).
		Str("user_id", userID).
		Msg("demo tenant seeded; POST /api/auth/login with these ids for a session")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("starting stub backend")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen")
	}
}
