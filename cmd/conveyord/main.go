// Command conveyord runs the conveyor daemon in the foreground. It is the
// entrypoint for service managers; interactive use normally goes through
// `conveyor start`, which launches the same runtime loop detached.
package main

import (
	"context"
	"flag"
	"log"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		log.Fatalf("conveyord: %v", err)
	}
}
