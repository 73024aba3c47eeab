package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Loggableim/ltth-desktop2-sub002/internal/app/runtime"
)

func main() {
	headless := flag.Bool("headless", false, "disable local audio playback")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := runtime.Start(ctx, runtime.Options{
		DisableLocalPlayback: *headless,
	})
	if err != nil {
		log.Fatalf("speechd: %v", err)
	}

	run.Wait()
	run.Stop()
}
