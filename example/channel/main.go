package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisFleet"
)

func main() {
	flow, err := aegisfleet.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := aegisfleet.NewChannelSink("fanout", 32)
	defer closeBatches()

	go fanoutWorker("upload", batches)

	if err := flow.Run(ctx, aegisfleet.StreamOutSink(sink)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []*aegisfleet.Collection) {
	for batch := range batches {
		for _, c := range batch {
			fmt.Printf("[%s] scheme=%s event=%d signals=%d frames=%d dtcs=%d at %s\n",
				name,
				c.Metadata.CollectionSchemeID,
				c.EventID,
				len(c.Signals),
				len(c.CANFrames),
				len(c.DTCInfo.Codes),
				time.Now().Format(time.RFC3339),
			)
		}
	}
}
