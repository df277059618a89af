// Package main starts the collaborative note-editing service and handles
// termination.
//
// The process is a transport adapter around note session lifecycle and
// content fan-out so note ownership stays with the backing application.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	collabcmd "github.com/duckviet/mind-notion-collab/internal/cmd/collab"
	"github.com/duckviet/mind-notion-collab/internal/platform/config"
)

func main() {
	cfg, err := collabcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[COLLAB] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := collabcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
