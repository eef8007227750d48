package main

import (
	"context"
	"log"
	"time"

	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/notify"
	"toolcrib.org/internal/workflow"
)

// Runs the full crib lifecycle in process and checks that every reserved
// quantity comes back to the shelf. Useful as a quick sanity check after
// changes to the state machines.
func main() {
	log.SetFlags(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger := inventory.NewInMemory()
	notices := notify.NewService(notify.NewInMemory())
	engine := workflow.NewInMemory(ledger, workflow.WithNotifier(notices))

	tool := workflow.ToolDescriptor{
		Name:     "Vernier Caliper",
		Make:     "Mitutoyo",
		Range:    "0-150mm",
		Location: "Rack A1",
	}

	addition, err := engine.SubmitAddition(ctx, tool, 10, "sup-1")
	if err != nil {
		log.Fatalf("submit addition: %v", err)
	}
	addition, err = engine.ApproveAddition(ctx, addition.ID, "off-1")
	if err != nil {
		log.Fatalf("approve addition %s: %v", addition.ID, err)
	}

	tools, err := ledger.ListAvailable(ctx)
	if err != nil || len(tools) != 1 {
		log.Fatalf("list tools: %v (%d tools)", err, len(tools))
	}
	toolID := tools[0].ID

	usage, err := engine.SubmitUsage(ctx, toolID, 4, "op-1")
	if err != nil {
		log.Fatalf("submit usage: %v", err)
	}
	if usage, err = engine.ApproveUsage(ctx, usage.ID, "sup-1"); err != nil {
		log.Fatalf("approve usage %s: %v", usage.ID, err)
	}

	after, err := ledger.Get(ctx, toolID)
	if err != nil {
		log.Fatalf("get tool: %v", err)
	}
	if after.QuantityAvailable != 6 {
		log.Fatalf("expected 6 available after approval, got %d", after.QuantityAvailable)
	}

	if usage, err = engine.MarkReceived(ctx, usage.ID, "op-1"); err != nil {
		log.Fatalf("receive %s: %v", usage.ID, err)
	}
	if usage, err = engine.ReturnTool(ctx, usage.ID, "op-1"); err != nil {
		log.Fatalf("return %s: %v", usage.ID, err)
	}

	final, err := ledger.Get(ctx, toolID)
	if err != nil {
		log.Fatalf("get tool: %v", err)
	}
	if final.QuantityAvailable != final.QuantityTotal {
		log.Fatalf("conservation failed: %d available of %d total",
			final.QuantityAvailable, final.QuantityTotal)
	}

	log.Printf("OK: %s %s -> %s, %d/%d back on the shelf",
		addition.ID, usage.ID, usage.Status, final.QuantityAvailable, final.QuantityTotal)
}
