// Command bullynode runs a single Bully-election participant: it joins
// a group via HOWDY to a Group Coordinator Daemon, then elects and
// tracks a leader among its peers. Startup is environment-driven and
// shutdown is triggered by an os/signal handler.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bully/node/internal/config"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/node"
)

func main() {
	log := logging.For("main")

	configPath := flag.String("config", "", "optional YAML file with timeout overrides")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	n := node.New(cfg)
	if err := n.Start(); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	log.Infof("node started, listening for peers")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Infof("received signal %v, shutting down", sig)
	n.Stop()
}
