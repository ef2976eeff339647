package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// Example_basicSetup shows how a command wires telemetry for a sync run.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Events.EnableAsync = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Message)
	}, telemetry.FilterByType(telemetry.EventTypeRunCompleted))

	_ = tel.Events.PublishRunStarted("run-1", "syncAll")
	_ = tel.Events.PublishRunCompleted("run-1", 1500*time.Millisecond, nil)

	// Output:
	// run.completed Run run-1 completed in 1.5s
}
