package directory

import (
	"context"
	"time"

	"guiascan/internal/config"
	"guiascan/internal/storage"
)

type SyncService struct {
	db     *storage.DB
	client *Client
}

func NewSyncService(db *storage.DB, cfg config.Config) *SyncService {
	return &SyncService{db: db, client: NewClient(cfg)}
}

// SyncAll refreshes the local copy of the client directory and payment
// ledger in that order, so new ledger entries never reference a client
// the directory has not seen yet.
func (s *SyncService) SyncAll(ctx context.Context) (clients, entries int, err error) {
	clientRecords, err := s.client.GetClientsAll(ctx)
	if err != nil {
		return 0, 0, err
	}
	if err := s.db.UpsertClients(clientRecords); err != nil {
		return 0, 0, err
	}

	ledgerEntries, err := s.client.GetLedgerEntriesAll(ctx)
	if err != nil {
		return len(clientRecords), 0, err
	}
	if err := s.db.UpsertLedgerEntries(ledgerEntries); err != nil {
		return len(clientRecords), 0, err
	}

	_ = s.db.SetMetadata("directory.last_sync", time.Now().UTC().Format(time.RFC3339))
	return len(clientRecords), len(ledgerEntries), nil
}
