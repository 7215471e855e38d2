package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/network"
	"github.com/cbodonnell/apsync/pkg/version"
)

func main() {
	port := flag.Int("port", 38281, "WebSocket port to listen on")
	roomPath := flag.String("room", "room.yaml", "Path to the room definition")
	certFile := flag.String("tls-cert", "", "TLS certificate file")
	keyFile := flag.String("tls-key", "", "TLS key file")
	logLevel := flag.String("log-level", "info", "Log level")
	logFormat := flag.String("log-format", log.FormatConsole, "Log format (json or console)")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}
	log.SetDefaultLogger(log.New(os.Stdout, *logFormat, parsedLogLevel))
	log.Info("Log level set to %s", parsedLogLevel)
	log.Info("Starting development room server version %s", version.Version)

	cfg, err := network.LoadRoomConfig(*roomPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load room: %v", err))
	}
	room, err := network.NewRoom(*cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to create room: %v", err))
	}
	log.Info("Hosting seed %s with %d slots", room.SeedName(), len(cfg.Slots))

	var tlsConfig *network.TLSConfig
	if *certFile != "" && *keyFile != "" {
		tlsConfig = &network.TLSConfig{CertFile: *certFile, KeyFile: *keyFile}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := network.NewWSServer(network.NewWSServerOptions{
		Port: *port,
		TLS:  tlsConfig,
		Room: room,
	})
	server.Start(ctx)
	log.Sync()
}
