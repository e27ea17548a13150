package main

import (
	"bufio"
	"flag"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"gitlab.com/dirk.krummacker/sos-service/internal/config"
	"gitlab.com/dirk.krummacker/sos-service/internal/logging"
	"gitlab.com/dirk.krummacker/sos-service/internal/service"
)

// Usage example on the command line:
// > DBHOST=localhost:3306 DBUSER=dirk DBPWD=bullo92 go run main.go -file=../../scripts/database.sql
func main() {
	log := logging.New(os.Stderr, "info", "console")
	filePtr := flag.String("file", "scripts/database.sql", "the sql file to execute")
	flag.Parse()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	sqlDB, err := service.CreateDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open database")
	}
	db := sqlx.NewDb(sqlDB, "mysql")
	defer db.Close()

	readFile, err := os.Open(*filePtr) // nosemgrep
	if err != nil {
		log.Fatal().Err(err).Str("file", *filePtr).Msg("could not open migration")
	}
	defer readFile.Close()

	fileScanner := bufio.NewScanner(readFile)
	fileScanner.Split(bufio.ScanLines)
	builder := strings.Builder{}
	statements := 0
	for fileScanner.Scan() {
		line := fileScanner.Text()
		builder.WriteString(line)
		builder.WriteString(" ")
		if strings.Contains(line, ";") {
			db.MustExec(builder.String())
			builder = strings.Builder{}
			statements++
		}
	}
	log.Info().Int("statements", statements).Str("file", *filePtr).Msg("migration applied")
}
