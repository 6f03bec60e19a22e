package pipeline

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"guiascan/internal"
	"guiascan/internal/util"
)

type ClientDirectory interface {
	LookupIdentifiers(ctx context.Context, identifiers []string) ([]internal.ClientRecord, error)
}

type PaymentLedger interface {
	ListEntries(ctx context.Context, clientIDs []int) (map[int][]internal.LedgerEntry, error)
	MarkPaid(ctx context.Context, clientID int, rawPeriod string, amount decimal.Decimal) error
}

type Reconciler struct {
	directory ClientDirectory
	ledger    PaymentLedger
}

func NewReconciler(directory ClientDirectory, ledger PaymentLedger) *Reconciler {
	return &Reconciler{directory: directory, ledger: ledger}
}

// Reconcile classifies the whole batch in one pass. Directory and ledger
// are each hit with a single query; if either fails the affected guides
// keep their batch-local status instead of aborting the run.
//
// Status precedence: a ledger hit for the guide's competência always
// overrides the batch-local baseline, including PeriodMismatch and
// DuplicateInBatch. A Paid entry is terminal for the guide; a Pulled
// entry can still be overridden by a Paid entry later in the same list.
func (r *Reconciler) Reconcile(ctx context.Context, guides []internal.ExtractedGuide, targetPeriod string) []internal.ReconciledGuide {
	normalized := make([]string, len(guides))
	duplicates := map[string]int{}
	for i, g := range guides {
		normalized[i] = util.NormalizeIdentifier(g.RawIdentifier)
		if normalized[i] == "" {
			continue
		}
		// Only guides of the target competência can pair up; a mismatched
		// page belongs to another run and must not taint its twin.
		if targetPeriod != "" && g.PeriodKey != targetPeriod {
			continue
		}
		duplicates[normalized[i]]++
	}

	identMap := r.resolveClients(ctx, guides, normalized)
	entriesByClient := r.resolveLedger(ctx, identMap)

	out := make([]internal.ReconciledGuide, 0, len(guides))
	for i, g := range guides {
		rec := internal.ReconciledGuide{
			ExtractedGuide:       g,
			NormalizedIdentifier: normalized[i],
			Status:               baselineStatus(g, normalized[i], duplicates, targetPeriod),
		}

		client, matched := lookupClient(identMap, g.RawIdentifier, normalized[i])
		if matched {
			id := client.ID
			name := client.Name
			rec.MatchedClientID = &id
			rec.MatchedClientName = &name

			for _, entry := range entriesByClient[client.ID] {
				if util.PeriodKey(entry.RawPeriod) != g.PeriodKey {
					continue
				}
				if entry.State == internal.PaymentPaid {
					rec.Status = internal.StatusAlreadyPaid
					break
				}
				if entry.State == internal.PaymentPulled {
					rec.Status = internal.StatusAlreadyPulled
				}
			}
		}

		out = append(out, rec)
	}

	return out
}

func baselineStatus(g internal.ExtractedGuide, normalizedID string, duplicates map[string]int, targetPeriod string) internal.GuideStatus {
	if targetPeriod != "" && g.PeriodKey != targetPeriod {
		return internal.StatusPeriodMismatch
	}
	if normalizedID != "" && duplicates[normalizedID] > 1 {
		return internal.StatusDuplicateInBatch
	}
	return internal.StatusOK
}

func (r *Reconciler) resolveClients(ctx context.Context, guides []internal.ExtractedGuide, normalized []string) map[string]internal.ClientRecord {
	distinct := map[string]struct{}{}
	for i, g := range guides {
		if g.RawIdentifier != "" && g.RawIdentifier != internal.IdentifierNotFound {
			distinct[g.RawIdentifier] = struct{}{}
		}
		if normalized[i] != "" {
			distinct[normalized[i]] = struct{}{}
		}
	}
	if len(distinct) == 0 {
		return nil
	}

	identifiers := make([]string, 0, len(distinct))
	for ident := range distinct {
		identifiers = append(identifiers, ident)
	}

	clients, err := r.directory.LookupIdentifiers(ctx, identifiers)
	if err != nil {
		log.Printf("reconcile: client directory unavailable, guides stay unmatched: %v", err)
		return nil
	}

	identMap := make(map[string]internal.ClientRecord, len(clients)*2)
	for _, c := range clients {
		if c.Identifier != "" {
			identMap[c.Identifier] = c
		}
		if c.NormalizedIdentifier != "" {
			identMap[c.NormalizedIdentifier] = c
		}
	}
	return identMap
}

func (r *Reconciler) resolveLedger(ctx context.Context, identMap map[string]internal.ClientRecord) map[int][]internal.LedgerEntry {
	if len(identMap) == 0 {
		return nil
	}

	seen := map[int]struct{}{}
	clientIDs := make([]int, 0, len(identMap))
	for _, c := range identMap {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		clientIDs = append(clientIDs, c.ID)
	}

	entries, err := r.ledger.ListEntries(ctx, clientIDs)
	if err != nil {
		log.Printf("reconcile: payment ledger unavailable, guides keep batch-local status: %v", err)
		return nil
	}
	return entries
}

func lookupClient(identMap map[string]internal.ClientRecord, raw, normalized string) (internal.ClientRecord, bool) {
	if c, ok := identMap[raw]; ok {
		return c, true
	}
	if normalized == "" {
		return internal.ClientRecord{}, false
	}
	c, ok := identMap[normalized]
	return c, ok
}
