package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisArchive"
)

func main() {
	flow, err := aegisarchive.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tap, batches, closeBatches := aegisarchive.NewChannelTap(32)
	defer closeBatches()

	go fanoutWorker("mirror", batches)

	if err := flow.Run(ctx, aegisarchive.StreamOutCallback(tap)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan aegisarchive.Batch) {
	for batch := range batches {
		fmt.Printf("[%s] channel %d archived %d samples at %s\n", name, batch.ChannelID, len(batch.Samples), time.Now().Format(time.RFC3339))
	}
}
