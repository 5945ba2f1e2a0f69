package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pluresdb/corelog/config"
	"github.com/pluresdb/corelog/rpcapi"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  walserver -dir <data-dir> [-addr host:port]\n")
	os.Exit(1)
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		dir  = flag.String("dir", cfg.Dir, "path to the log directory")
		addr = flag.String("addr", cfg.Addr, "RPC listen address")
	)
	flag.Parse()

	if *dir == "" {
		usage()
	}
	cfg.Dir = *dir
	cfg.Addr = *addr

	listenAddr, cleanup, err := rpcapi.Serve(cfg.Dir, cfg.Addr, cfg.LogOptions()...)
	if err != nil {
		log.Fatalf("could not start RPC server: %v", err)
	}
	log.Printf("RPC server listening on %s (dir=%s durability=%s)", listenAddr, cfg.Dir, cfg.Durability)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %v, shutting down", sig)

	cleanup()
}
