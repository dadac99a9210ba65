// inventory-restock adds received sheets to a material's on-hand stock and,
// optionally, moves its low-stock threshold.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
	"github.com/google/uuid"
)

func main() {
	materialID := flag.String("material", "", "Required: material id (e.g. WOOD_WALNUT)")
	quantity := flag.Int("qty", 0, "Sheets received (0 to only change the threshold)")
	threshold := flag.Int("threshold", -1, "Optional: new low-stock threshold")
	operator := flag.String("operator", "cli", "Name recorded in history")
	flag.Parse()

	if strings.TrimSpace(*materialID) == "" {
		fmt.Fprintln(os.Stderr, "--material is required")
		os.Exit(1)
	}
	if *quantity < 0 || (*quantity == 0 && *threshold < 0) {
		fmt.Fprintln(os.Stderr, "nothing to do: pass a positive --qty and/or --threshold")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetUserNameInContext(context.Background(), *operator)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ledger := models.NewLedger(db, utils.NewLocalLocker())
	id := strings.ToUpper(strings.TrimSpace(*materialID))

	var record *models.InventoryRecord
	var err error
	if *quantity > 0 {
		if record, err = ledger.Restock(ctx, id, *quantity); err != nil {
			fmt.Fprintf(os.Stderr, "restock failed: %v\n", err)
			os.Exit(1)
		}
	}
	if *threshold >= 0 {
		if record, err = ledger.SetThreshold(ctx, id, *threshold); err != nil {
			fmt.Fprintf(os.Stderr, "set threshold failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("material=%s on_hand=%d reserved=%d available=%d threshold=%d low=%t\n",
		record.MaterialId, record.OnHand, record.Reserved, record.Available(), record.LowThreshold, record.IsLowStock)
}
