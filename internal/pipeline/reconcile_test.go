package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"guiascan/internal"
	"guiascan/internal/util"
)

type fakeDirectory struct {
	clients []internal.ClientRecord
	err     error
}

func (f *fakeDirectory) LookupIdentifiers(_ context.Context, identifiers []string) ([]internal.ClientRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	wanted := map[string]struct{}{}
	for _, ident := range identifiers {
		wanted[ident] = struct{}{}
	}
	out := []internal.ClientRecord{}
	for _, c := range f.clients {
		if _, ok := wanted[c.Identifier]; ok {
			out = append(out, c)
			continue
		}
		if _, ok := wanted[c.NormalizedIdentifier]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeLedger struct {
	entries map[int][]internal.LedgerEntry
	err     error
}

func (f *fakeLedger) ListEntries(_ context.Context, clientIDs []int) (map[int][]internal.LedgerEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[int][]internal.LedgerEntry{}
	for _, id := range clientIDs {
		if entries, ok := f.entries[id]; ok {
			out[id] = entries
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkPaid(context.Context, int, string, decimal.Decimal) error {
	return errors.New("not implemented")
}

func guide(page int, identifier, rawPeriod, amount string) internal.ExtractedGuide {
	return internal.ExtractedGuide{
		PageNumber:    page,
		RawIdentifier: identifier,
		RawPeriod:     rawPeriod,
		PeriodKey:     util.PeriodKey(rawPeriod),
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestReconcileLedgerOverridesPeriodMismatch(t *testing.T) {
	dir := &fakeDirectory{clients: []internal.ClientRecord{
		{ID: 7, Name: "Maria", Identifier: "123.456.789-00", NormalizedIdentifier: "12345678900"},
	}}
	ledger := &fakeLedger{entries: map[int][]internal.LedgerEntry{
		7: {{ID: 1, ClientID: 7, RawPeriod: "Outubro/2024", State: internal.PaymentPaid}},
	}}

	guides := []internal.ExtractedGuide{guide(1, "123.456.789-00", "Outubro/2024", "50")}
	out := NewReconciler(dir, ledger).Reconcile(context.Background(), guides, "2024-11")

	if out[0].Status != internal.StatusAlreadyPaid {
		t.Fatalf("paid ledger entry must override period mismatch, got %s", out[0].Status)
	}
}

func TestReconcilePaidBeatsPulledInSameList(t *testing.T) {
	dir := &fakeDirectory{clients: []internal.ClientRecord{
		{ID: 7, Name: "Maria", Identifier: "123.456.789-00", NormalizedIdentifier: "12345678900"},
	}}
	ledger := &fakeLedger{entries: map[int][]internal.LedgerEntry{
		7: {
			{ID: 1, ClientID: 7, RawPeriod: "Novembro/2024", State: internal.PaymentPulled},
			{ID: 2, ClientID: 7, RawPeriod: "Novembro/2024", State: internal.PaymentPaid},
		},
	}}

	guides := []internal.ExtractedGuide{guide(1, "123.456.789-00", "Novembro/2024", "50")}
	out := NewReconciler(dir, ledger).Reconcile(context.Background(), guides, "")

	if out[0].Status != internal.StatusAlreadyPaid {
		t.Fatalf("a later paid entry must override pulled, got %s", out[0].Status)
	}
}

func TestReconcilePulledKeepsScanning(t *testing.T) {
	dir := &fakeDirectory{clients: []internal.ClientRecord{
		{ID: 7, Name: "Maria", Identifier: "123.456.789-00", NormalizedIdentifier: "12345678900"},
	}}
	ledger := &fakeLedger{entries: map[int][]internal.LedgerEntry{
		7: {
			{ID: 1, ClientID: 7, RawPeriod: "Novembro/2024", State: internal.PaymentPulled},
			{ID: 2, ClientID: 7, RawPeriod: "Outubro/2024", State: internal.PaymentPaid},
		},
	}}

	guides := []internal.ExtractedGuide{guide(1, "123.456.789-00", "Novembro/2024", "50")}
	out := NewReconciler(dir, ledger).Reconcile(context.Background(), guides, "")

	if out[0].Status != internal.StatusAlreadyPulled {
		t.Fatalf("paid entry of another period must not apply, got %s", out[0].Status)
	}
}

func TestReconcileDuplicateDetection(t *testing.T) {
	dir := &fakeDirectory{}
	ledger := &fakeLedger{}

	guides := []internal.ExtractedGuide{
		guide(1, "123.456.789-00", "Novembro/2024", "10"),
		guide(2, "12345678900", "Novembro/2024", "20"),
		guide(3, "999.888.777-66", "Novembro/2024", "30"),
	}
	out := NewReconciler(dir, ledger).Reconcile(context.Background(), guides, "")

	if out[0].Status != internal.StatusDuplicateInBatch || out[1].Status != internal.StatusDuplicateInBatch {
		t.Fatalf("records sharing a normalized identifier must be duplicates, got %s / %s", out[0].Status, out[1].Status)
	}
	if out[2].Status != internal.StatusOK {
		t.Fatalf("distinct record must be OK, got %s", out[2].Status)
	}
}

func TestReconcileMismatchedPeriodDoesNotTaintDuplicates(t *testing.T) {
	guides := []internal.ExtractedGuide{
		guide(1, "123.456.789-00", "Novembro/2024", "10"),
		guide(2, "123.456.789-00", "Outubro/2024", "20"),
	}
	out := NewReconciler(&fakeDirectory{}, &fakeLedger{}).Reconcile(context.Background(), guides, "2024-11")

	if out[0].Status != internal.StatusOK {
		t.Fatalf("page 1 shares its identifier only with a mismatched page, got %s", out[0].Status)
	}
	if out[1].Status != internal.StatusPeriodMismatch {
		t.Fatalf("page 2: got %s", out[1].Status)
	}
}

func TestReconcileMissingIdentifiersAreNotDuplicates(t *testing.T) {
	guides := []internal.ExtractedGuide{
		guide(1, internal.IdentifierNotFound, "Novembro/2024", "10"),
		guide(2, internal.IdentifierNotFound, "Novembro/2024", "20"),
	}
	out := NewReconciler(&fakeDirectory{}, &fakeLedger{}).Reconcile(context.Background(), guides, "")

	for _, g := range out {
		if g.Status != internal.StatusOK {
			t.Fatalf("pages without identifiers must not pair up as duplicates, got %s", g.Status)
		}
	}
}

func TestReconcileLookupFailureDegrades(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("directory down")}
	ledger := &fakeLedger{err: errors.New("ledger down")}

	guides := []internal.ExtractedGuide{guide(1, "123.456.789-00", "Novembro/2024", "10")}
	out := NewReconciler(dir, ledger).Reconcile(context.Background(), guides, "")

	if out[0].Status != internal.StatusOK {
		t.Fatalf("lookup failure must keep batch-local status, got %s", out[0].Status)
	}
	if out[0].MatchedClientID != nil {
		t.Fatal("no client can be matched when the directory is down")
	}
}

func TestReconcileEndToEndScenario(t *testing.T) {
	dir := &fakeDirectory{clients: []internal.ClientRecord{
		{ID: 1, Name: "Maria", Identifier: "123.456.789-00", NormalizedIdentifier: "12345678900"},
	}}
	ledger := &fakeLedger{}

	guides := []internal.ExtractedGuide{
		guide(1, "123.456.789-00", "Novembro/2024", "100.50"),
		guide(2, "123.456.789-00", "Outubro/2024", "50.00"),
		guide(3, "999.888.777-66", "Novembro/2024", "75.25"),
	}
	out := NewReconciler(dir, ledger).Reconcile(context.Background(), guides, "2024-11")

	if out[0].Status != internal.StatusOK {
		t.Fatalf("page 1: got %s", out[0].Status)
	}
	if out[1].Status != internal.StatusPeriodMismatch {
		t.Fatalf("page 2: got %s", out[1].Status)
	}
	if out[2].Status != internal.StatusOK {
		t.Fatalf("page 3: got %s", out[2].Status)
	}
	if out[0].MatchedClientName == nil || *out[0].MatchedClientName != "Maria" {
		t.Fatal("page 1 should match Maria")
	}
	if out[2].MatchedClientID != nil {
		t.Fatal("page 3 must stay unmatched")
	}

	stats := ComputeStats(out)
	if stats.TotalValue.String() != "175.75" {
		t.Fatalf("total: got %s", stats.TotalValue.String())
	}
	if stats.ErrorCount != 1 || stats.WarningCount != 0 || stats.Count != 3 {
		t.Fatalf("stats: %+v", stats)
	}
}
