// inventory-report writes every inventory position to an xlsx workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/mapframe_backend/config"
	"bitbucket.org/mmdatafocus/mapframe_backend/models"
	"bitbucket.org/mmdatafocus/mapframe_backend/models/reports"
	"bitbucket.org/mmdatafocus/mapframe_backend/utils"
)

func main() {
	out := flag.String("out", "", "Output file (default inventory-YYYYMMDD.xlsx)")
	lowOnly := flag.Bool("low-only", false, "Only include materials flagged low stock")
	flag.Parse()

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("inventory-%s.xlsx", time.Now().Format("20060102"))
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	rows, err := reports.GetInventoryReport(context.Background(), models.NewLedger(db, utils.NewLocalLocker()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read inventory: %v\n", err)
		os.Exit(1)
	}
	if *lowOnly {
		filtered := rows[:0]
		for _, r := range rows {
			if r.IsLowStock {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	if err := reports.SaveInventoryWorkbook(filename, rows); err != nil {
		fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d rows to %s\n", len(rows), filename)
}
