package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/xuri/excelize/v2"

	"tablio.com/tablio/config"
	"tablio.com/tablio/pos/model"
	"tablio.com/tablio/pos/store"
)

// exportfailed writes every permanently failed record to a spreadsheet so
// back office staff can re-key or void them. Failed records are excluded
// from automatic replay; this is the manual-intervention path.
func main() {
	configPath := flag.String("config", "", "path to YAML config")
	output := flag.String("out", "failed-operations.xlsx", "output spreadsheet path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	st, err := store.Open(cfg.StorePath, store.Options{RetryThreshold: cfg.RetryThreshold})
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	orders, err := st.FailedOrders(ctx)
	if err != nil {
		log.Fatal(err)
	}
	payments, err := st.FailedPayments(ctx)
	if err != nil {
		log.Fatal(err)
	}
	ops, err := st.FailedSyncOperations(ctx)
	if err != nil {
		log.Fatal(err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeOrders(f, orders); err != nil {
		log.Fatal(err)
	}
	if err := writePayments(f, payments); err != nil {
		log.Fatal(err)
	}
	if err := writeOperations(f, ops); err != nil {
		log.Fatal(err)
	}
	_ = f.DeleteSheet("Sheet1")

	if err := f.SaveAs(*output); err != nil {
		log.Fatal(err)
	}
	log.Printf("exported %d orders, %d payments, %d operations to %s",
		len(orders), len(payments), len(ops), *output)
}

func writeOrders(f *excelize.File, orders []model.OfflineOrder) error {
	const sheet = "Orders"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headers := []any{"Local ID", "Created At", "Retry Count", "Error", "Payload"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	for i, o := range orders {
		row := []any{o.LocalID, o.CreatedAt.Format("2006-01-02 15:04:05"), o.RetryCount, deref(o.Error), string(o.Payload)}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

func writePayments(f *excelize.File, payments []model.OfflinePayment) error {
	const sheet = "Payments"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headers := []any{"Local ID", "Order ID", "Created At", "Retry Count", "Error", "Payload"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	for i, p := range payments {
		row := []any{p.LocalID, p.OrderID, p.CreatedAt.Format("2006-01-02 15:04:05"), p.RetryCount, deref(p.Error), string(p.Payload)}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

func writeOperations(f *excelize.File, ops []model.QueuedOperation) error {
	const sheet = "Operations"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	headers := []any{"ID", "Kind", "Method", "Endpoint", "Created At", "Retry Count", "Error"}
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	for i, op := range ops {
		row := []any{op.ID, op.Kind, op.Method, op.Endpoint, op.CreatedAt.Format("2006-01-02 15:04:05"), op.RetryCount, deref(op.Error)}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
