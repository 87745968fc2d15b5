package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/openhap/hapd/internal/accessory"
	"github.com/openhap/hapd/internal/app"
)

func main() {
	// 1. Core modules: app must be first
	app.Init() // app config and logs

	// 2. Accessory server: pairing, secure sessions, mDNS announce
	accessory.Init()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	println("exit with signal:", (<-sigs).String())
}
