package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisArchive/pkg/aegisarchive"
)

func main() {
	flow, err := aegisarchive.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch aegisarchive.Batch) error {
		for _, sample := range batch.Samples {
			fmt.Printf("%s channel=%d seq=%d value=%s severity=%s\n",
				sample.Timestamp.Format(time.RFC3339Nano),
				batch.ChannelID,
				sample.Seq,
				sample.Value,
				sample.Severity,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, aegisarchive.StreamOutCallback(callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
