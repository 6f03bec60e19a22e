package internal

import "github.com/shopspring/decimal"

// IdentifierNotFound marks a guide page that carried no readable CPF.
const IdentifierNotFound = "não encontrado"

type GuideStatus string

const (
	StatusOK               GuideStatus = "OK"
	StatusPeriodMismatch   GuideStatus = "PERIOD_MISMATCH"
	StatusDuplicateInBatch GuideStatus = "DUPLICATE_IN_BATCH"
	StatusAlreadyPaid      GuideStatus = "ALREADY_PAID"
	StatusAlreadyPulled    GuideStatus = "ALREADY_PULLED"
)

type PaymentState string

const (
	PaymentPending PaymentState = "pending"
	PaymentPulled  PaymentState = "pulled"
	PaymentPaid    PaymentState = "paid"
)

type ExtractedGuide struct {
	PageNumber    int
	RawIdentifier string
	RawPeriod     string
	PeriodKey     string
	Amount        decimal.Decimal
	CodeArtifact  []byte
}

type ReconciledGuide struct {
	ExtractedGuide
	NormalizedIdentifier string
	MatchedClientID      *int
	MatchedClientName    *string
	Status               GuideStatus
}

type ClientRecord struct {
	ID                   int
	Name                 string
	Identifier           string
	NormalizedIdentifier string
}

type LedgerEntry struct {
	ID        int
	ClientID  int
	RawPeriod string
	Amount    decimal.Decimal
	State     PaymentState
	PaidAt    *string
}

type BatchStats struct {
	Count        int
	TotalValue   decimal.Decimal
	ErrorCount   int
	WarningCount int
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type GuideExportRow struct {
	Page                 int
	RawIdentifier        string
	NormalizedIdentifier string
	ClientID             *int
	ClientName           *string
	RawPeriod            string
	PeriodKey            string
	Amount               string
	Status               string
	ArtifactPath         *string
}
