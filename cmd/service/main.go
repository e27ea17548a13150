package main

import (
	"os"

	"gitlab.com/dirk.krummacker/sos-service/internal/config"
	"gitlab.com/dirk.krummacker/sos-service/internal/logging"
	"gitlab.com/dirk.krummacker/sos-service/internal/service"
)

// Usage example on the command line:
// > PORT=8080 DBUSER=dirk DBPWD=bullo92 GIN_MODE=release GIN_LOGGING=OFF JWT_SECRET=$(openssl rand -hex 32) go run main.go
// > STORE=memory JWT_SECRET=$(openssl rand -hex 32) go run main.go
func main() {
	log := logging.New(os.Stderr, "info", "console")
	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	log = logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	var svc *service.Service
	if cfg.Store == "memory" {
		log.Warn().Msg("using in-memory stores, nothing survives a restart")
		svc = service.SetupMemory(cfg, log)
	} else {
		sqlDB, err := service.CreateDatabase(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not open database")
		}
		defer sqlDB.Close()
		svc, err = service.SetupDatabaseWrapper(cfg, log, sqlDB)
		if err != nil {
			log.Fatal().Err(err).Msg("could not prepare statements")
		}
	}

	router := svc.SetupHttpRouter()
	log.Info().Str("port", cfg.Port).Str("store", cfg.Store).Msg("starting SOS service")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
