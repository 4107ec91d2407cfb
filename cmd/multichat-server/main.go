package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aluzardo/multichat/pkg/server"
)

func main() {
	configPath := flag.String("config", "multichat.toml", "Path to config file")
	tcpPort := flag.Int("port", 0, "Override TCP port")
	httpPort := flag.Int("http-port", -1, "Override public HTTP port (0 to disable)")
	metricsAddr := flag.String("metrics", "", "Override metrics bind address")
	dataDir := flag.String("data", "", "Override data directory")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := tomlConfig.ToConfig()

	if *tcpPort != 0 {
		cfg.TCPPort = *tcpPort
	}
	if *httpPort >= 0 {
		cfg.HTTPPort = *httpPort
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if err := server.InitLogging(cfg.DataDir); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if *debug || tomlConfig.Server.Debug {
		server.EnableDebugLogging(cfg.DataDir)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("multichat server listening on %s", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
