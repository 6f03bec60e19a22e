package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"guiascan/internal"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "guiascan.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedClients(t *testing.T, db *DB) {
	t.Helper()
	err := db.UpsertClients([]internal.ClientRecord{
		{ID: 1, Name: "Maria", Identifier: "123.456.789-00"},
		{ID: 2, Name: "João", Identifier: "999.888.777-66"},
	})
	if err != nil {
		t.Fatalf("upsert clients: %v", err)
	}
}

func TestLookupIdentifiers(t *testing.T) {
	db := testDB(t)
	seedClients(t, db)

	ctx := context.Background()

	clients, err := db.LookupIdentifiers(ctx, []string{"12345678900"})
	if err != nil {
		t.Fatalf("lookup by normalized: %v", err)
	}
	if len(clients) != 1 || clients[0].Name != "Maria" {
		t.Fatalf("lookup by normalized: %+v", clients)
	}
	if clients[0].NormalizedIdentifier != "12345678900" {
		t.Fatalf("stored normalized identifier: %q", clients[0].NormalizedIdentifier)
	}

	clients, err = db.LookupIdentifiers(ctx, []string{"999.888.777-66", "000.000.000-00"})
	if err != nil {
		t.Fatalf("lookup by raw: %v", err)
	}
	if len(clients) != 1 || clients[0].Name != "João" {
		t.Fatalf("lookup by raw: %+v", clients)
	}

	clients, err = db.LookupIdentifiers(ctx, nil)
	if err != nil || clients != nil {
		t.Fatalf("empty lookup: %v %v", clients, err)
	}
}

func TestUpsertClientsIsIdempotent(t *testing.T) {
	db := testDB(t)
	seedClients(t, db)

	err := db.UpsertClients([]internal.ClientRecord{
		{ID: 1, Name: "Maria Silva", Identifier: "123.456.789-00"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	clients, err := db.LookupIdentifiers(context.Background(), []string{"12345678900"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(clients) != 1 || clients[0].Name != "Maria Silva" {
		t.Fatalf("upsert did not replace: %+v", clients)
	}
}

func TestListEntriesGroupsByClient(t *testing.T) {
	db := testDB(t)
	seedClients(t, db)

	err := db.UpsertLedgerEntries([]internal.LedgerEntry{
		{ID: 10, ClientID: 1, RawPeriod: "Novembro/2024", Amount: decimal.RequireFromString("100.50"), State: internal.PaymentPending},
		{ID: 11, ClientID: 1, RawPeriod: "Outubro/2024", Amount: decimal.RequireFromString("99.00"), State: internal.PaymentPaid},
		{ID: 12, ClientID: 2, RawPeriod: "Novembro/2024", Amount: decimal.RequireFromString("50.00"), State: internal.PaymentPulled},
	})
	if err != nil {
		t.Fatalf("upsert entries: %v", err)
	}

	entries, err := db.ListEntries(context.Background(), []int{1, 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries[1]) != 2 || len(entries[2]) != 1 {
		t.Fatalf("grouping: %+v", entries)
	}
	if entries[2][0].State != internal.PaymentPulled {
		t.Fatalf("state: %s", entries[2][0].State)
	}
	if entries[1][0].Amount.String() != "100.5" {
		t.Fatalf("amount: %s", entries[1][0].Amount.String())
	}
}

func TestMarkPaid(t *testing.T) {
	db := testDB(t)
	seedClients(t, db)

	err := db.UpsertLedgerEntries([]internal.LedgerEntry{
		{ID: 10, ClientID: 1, RawPeriod: "Novembro/2024", Amount: decimal.RequireFromString("100.50"), State: internal.PaymentPending},
		{ID: 11, ClientID: 1, RawPeriod: "Novembro/2024", Amount: decimal.RequireFromString("100.50"), State: internal.PaymentPending},
	})
	if err != nil {
		t.Fatalf("upsert entries: %v", err)
	}

	ctx := context.Background()
	// Raw competência and period key must address the same entries.
	if err := db.MarkPaid(ctx, 1, "Novembro/2024", decimal.RequireFromString("101.00")); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	entries, err := db.ListEntries(ctx, []int{1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	first, second := entries[1][0], entries[1][1]
	if first.State != internal.PaymentPaid || first.PaidAt == nil {
		t.Fatalf("oldest entry not paid: %+v", first)
	}
	if first.Amount.String() != "101" {
		t.Fatalf("paid amount not recorded: %s", first.Amount.String())
	}
	if second.State != internal.PaymentPending {
		t.Fatalf("newer entry must stay open: %+v", second)
	}

	if err := db.MarkPaid(ctx, 1, "11/2024", decimal.RequireFromString("100.50")); err != nil {
		t.Fatalf("mark paid via month/year form: %v", err)
	}
}

func TestMarkPaidNoOpenEntry(t *testing.T) {
	db := testDB(t)
	seedClients(t, db)

	err := db.MarkPaid(context.Background(), 1, "Novembro/2024", decimal.RequireFromString("100.50"))
	if err == nil {
		t.Fatal("expected an error when no entry exists")
	}
	if !strings.Contains(err.Error(), "no open ledger entry") {
		t.Fatalf("error: %v", err)
	}
}

func TestEmailLifecycle(t *testing.T) {
	db := testDB(t)

	email, err := db.UpsertEmail("gmail", "msg-1", "Guias", "contabil@example.com", "2024-11-05T10:00:00Z", "abc", "raw/msg-1.eml", "fetched")
	if err != nil {
		t.Fatalf("upsert email: %v", err)
	}
	if email.ID == 0 || email.Status != "fetched" {
		t.Fatalf("email row: %+v", email)
	}

	// Re-fetch of the same message must not create a second row.
	again, err := db.UpsertEmail("gmail", "msg-1", "Guias (updated)", "contabil@example.com", "2024-11-05T10:00:00Z", "abc", "raw/msg-1.eml", "fetched")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if again.ID != email.ID || again.Subject != "Guias (updated)" {
		t.Fatalf("dedup: %+v", again)
	}

	pending, err := db.ListEmailsByStatus("fetched", 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("list by status: %v %v", pending, err)
	}

	if err := db.UpdateEmailStatus(email.ID, "processed"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	row, err := db.MustEmailByProviderMessageID("gmail", "msg-1")
	if err != nil || row.Status != "processed" {
		t.Fatalf("status after update: %+v %v", row, err)
	}
}

func TestGuidePersistenceRoundTrip(t *testing.T) {
	db := testDB(t)

	email, err := db.UpsertEmail("gmail", "msg-1", "Guias", "a@b", "", "abc", "raw/msg-1.eml", "fetched")
	if err != nil {
		t.Fatalf("upsert email: %v", err)
	}

	clientID := 1
	clientName := "Maria"
	guide := internal.ReconciledGuide{
		ExtractedGuide: internal.ExtractedGuide{
			PageNumber:    1,
			RawIdentifier: "123.456.789-00",
			RawPeriod:     "Novembro/2024",
			PeriodKey:     "2024-11",
			Amount:        decimal.RequireFromString("100.50"),
		},
		NormalizedIdentifier: "12345678900",
		MatchedClientID:      &clientID,
		MatchedClientName:    &clientName,
		Status:               internal.StatusOK,
	}
	if err := db.InsertGuide("run-1", email.ID, guide, "artifacts/run-1/page-1.png"); err != nil {
		t.Fatalf("insert guide: %v", err)
	}
	if err := db.InsertGuide("run-1", email.ID, internal.ReconciledGuide{
		ExtractedGuide: internal.ExtractedGuide{
			PageNumber:    2,
			RawIdentifier: internal.IdentifierNotFound,
			RawPeriod:     "Novembro/2024",
			PeriodKey:     "2024-11",
			Amount:        decimal.RequireFromString("50.00"),
		},
		Status: internal.StatusOK,
	}, ""); err != nil {
		t.Fatalf("insert guide: %v", err)
	}

	rows, err := db.GetExportRows(email.ID)
	if err != nil {
		t.Fatalf("export rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows: %d", len(rows))
	}
	if rows[0].ClientName == nil || *rows[0].ClientName != "Maria" {
		t.Fatalf("row 0: %+v", rows[0])
	}
	if rows[0].ArtifactPath == nil {
		t.Fatal("row 0 must keep its artifact path")
	}
	if rows[1].ClientID != nil || rows[1].ArtifactPath != nil {
		t.Fatalf("row 1 must have null client and artifact: %+v", rows[1])
	}

	// Re-processing clears previous guides of the email.
	if err := db.ClearEmailProcessing(email.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rows, err = db.GetExportRows(email.ID)
	if err != nil || len(rows) != 0 {
		t.Fatalf("rows after clear: %d %v", len(rows), err)
	}
}

func TestMetadata(t *testing.T) {
	db := testDB(t)

	v, err := db.GetMetadata("lastSyncAt")
	if err != nil || v != nil {
		t.Fatalf("missing key: %v %v", v, err)
	}

	if err := db.SetMetadata("lastSyncAt", "2024-11-05T10:00:00Z"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.SetMetadata("lastSyncAt", "2024-11-06T10:00:00Z"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, err = db.GetMetadata("lastSyncAt")
	if err != nil || v == nil || *v != "2024-11-06T10:00:00Z" {
		t.Fatalf("get: %v %v", v, err)
	}
}
