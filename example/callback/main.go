package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisFleet/pkg/aegisfleet"
)

// Collects signal 1 (coolant temperature) whenever it exceeds 95 and prints
// each snapshot, while a simulated producer pushes readings.
func main() {
	matrix, err := new(aegisfleet.MatrixBuilder).
		Add(aegisfleet.Bigger(aegisfleet.Signal(1), aegisfleet.Const(95)), aegisfleet.Condition{
			MinimumPublishInterval:  time.Second,
			TriggerOnlyOnRisingEdge: true,
			ProbabilityToSend:       1,
			Signals:                 []aegisfleet.SignalCollectionInfo{{SignalID: 1, SampleBufferSize: 20}},
			Metadata:                aegisfleet.PassThroughMetadata{CollectionSchemeID: "coolant-overheat"},
		}).
		Build()
	if err != nil {
		log.Fatalf("build matrix: %v", err)
	}

	flow, err := aegisfleet.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	callback := func(batch []*aegisfleet.Collection) error {
		for _, c := range batch {
			fmt.Printf("%s scheme=%s event=%d signals=%d\n",
				c.TriggerTime.Format(time.RFC3339Nano),
				c.Metadata.CollectionSchemeID,
				c.EventID,
				len(c.Signals),
			)
		}
		return nil
	}

	rt, err := flow.StreamIN(aegisfleet.StreamInMatrix(matrix)).
		StreamOUT(aegisfleet.StreamOutCallback("stdout", callback))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go simulateCoolant(ctx, rt)

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func simulateCoolant(ctx context.Context, rt *aegisfleet.AgentRuntime) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	temp := 80.0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			temp += 0.5
			if temp > 100 {
				temp = 80
			}
			s := aegisfleet.CollectedSignal{SignalID: 1, ReceiveTime: now, Value: aegisfleet.DoubleValue(temp)}
			if err := rt.PushSignal(s); err != nil {
				log.Printf("push signal: %v", err)
			}
		}
	}
}
