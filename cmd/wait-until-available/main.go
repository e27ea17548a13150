package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"gitlab.com/dirk.krummacker/sos-service/internal/logging"
)

// Usage example on the command line:
// > go run main.go -url=http://localhost:8080/healthz -timeout=2m
func main() {
	urlPtr := flag.String("url", "http://localhost:8080/healthz", "the health endpoint to poll")
	intervalPtr := flag.Duration("interval", 5*time.Second, "the pause between two attempts")
	timeoutPtr := flag.Duration("timeout", 0, "give up after this long, 0 waits forever")
	flag.Parse()

	log := logging.New(os.Stderr, "info", "console")
	started := time.Now()
	for {
		res, err := http.Get(*urlPtr)
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				log.Info().Str("url", *urlPtr).Dur("waited", time.Since(started)).Msg("service is available")
				return
			}
			log.Info().Int("status", res.StatusCode).Msg("service not ready")
		} else {
			log.Info().Err(err).Msg("service not reachable")
		}
		if *timeoutPtr > 0 && time.Since(started) > *timeoutPtr {
			log.Error().Dur("waited", time.Since(started)).Msg("giving up")
			os.Exit(1)
		}
		time.Sleep(*intervalPtr)
	}
}
