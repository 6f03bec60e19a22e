package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"guiascan/internal"
	"guiascan/internal/config"
	"guiascan/internal/storage"
)

type ProcessingService struct {
	db  *storage.DB
	cfg config.Config
}

func NewProcessingService(db *storage.DB, cfg config.Config) *ProcessingService {
	return &ProcessingService{db: db, cfg: cfg}
}

type ProcessResult struct {
	EmailID   int
	Documents int
	Guides    int
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, int, error) {
	pending, err := s.db.ListEmailsByStatus("fetched", limit)
	if err != nil {
		return 0, 0, err
	}
	processedEmails := 0
	processedGuides := 0
	for _, email := range pending {
		if provider != "" && email.Provider != provider {
			continue
		}
		res, err := s.ProcessEmail(ctx, email)
		if err != nil {
			return processedEmails, processedGuides, err
		}
		processedEmails++
		processedGuides += res.Guides
	}
	return processedEmails, processedGuides, nil
}

// ProcessEmail runs the full reconciliation over every PDF attachment of
// one fetched email: scan pages, resolve the batch against the client
// directory and payment ledger, persist guides and run accounting.
func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	start := time.Now()
	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ProcessResult{}, err
	}

	attachmentNames := make([]string, 0, len(env.Attachments))
	for _, att := range env.Attachments {
		attachmentNames = append(attachmentNames, att.FileName)
	}

	subject := firstNonEmpty(env.GetHeader("Subject"), email.Subject)
	detect := DetectGuideEmail(subject, env.Text, env.HTML, attachmentNames)

	if err := s.db.ClearEmailProcessing(email.ID); err != nil {
		return ProcessResult{}, err
	}

	runID := traceID()
	if !detect.IsGuide {
		_ = s.db.UpdateEmailStatus(email.ID, "skipped")
		_ = s.db.InsertRun(runID, email.ID, map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())}, map[string]int{"documents": 0, "guides": 0, "errors": 0, "warnings": 0})
		return ProcessResult{EmailID: email.ID}, nil
	}

	reconciler := NewReconciler(s.db, s.db)

	documents := 0
	totalGuides := 0
	totalErrors := 0
	totalWarnings := 0
	for docIndex, att := range env.Attachments {
		if !strings.HasSuffix(strings.ToLower(att.FileName), ".pdf") {
			continue
		}

		scan, err := ScanDocument(ctx, att.Content, nil)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ProcessResult{}, err
			}
			log.Printf("process: email %d attachment %q: %v", email.ID, att.FileName, err)
			continue
		}
		documents++

		target := firstNonEmpty(s.cfg.TargetPeriod, detect.PeriodHint, scan.SuggestedPeriod)
		reconciled := reconciler.Reconcile(ctx, scan.Guides, target)
		stats := ComputeStats(reconciled)

		for _, guide := range reconciled {
			artifactPath, err := s.saveArtifact(runID, docIndex, guide)
			if err != nil {
				log.Printf("process: save artifact for page %d: %v", guide.PageNumber, err)
			}
			if err := s.db.InsertGuide(runID, email.ID, guide, artifactPath); err != nil {
				return ProcessResult{}, err
			}
		}

		totalGuides += stats.Count
		totalErrors += stats.ErrorCount
		totalWarnings += stats.WarningCount
	}

	if err := s.db.UpdateEmailStatus(email.ID, "processed"); err != nil {
		return ProcessResult{}, err
	}
	_ = s.db.InsertRun(runID, email.ID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"documents": documents, "guides": totalGuides, "errors": totalErrors, "warnings": totalWarnings})

	return ProcessResult{EmailID: email.ID, Documents: documents, Guides: totalGuides}, nil
}

// ProcessFile is the one-shot path for a PDF already on disk. An empty
// targetPeriod means "use the period suggested by the document itself".
func (s *ProcessingService) ProcessFile(ctx context.Context, path, targetPeriod string, progress ProgressFunc) ([]internal.ReconciledGuide, internal.BatchStats, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, internal.BatchStats{}, err
	}

	scan, err := ScanDocument(ctx, blob, progress)
	if err != nil {
		return nil, internal.BatchStats{}, err
	}

	if targetPeriod == "" {
		targetPeriod = scan.SuggestedPeriod
	}

	reconciler := NewReconciler(s.db, s.db)
	reconciled := reconciler.Reconcile(ctx, scan.Guides, targetPeriod)
	return reconciled, ComputeStats(reconciled), nil
}

func (s *ProcessingService) saveArtifact(runID string, docIndex int, guide internal.ReconciledGuide) (string, error) {
	if len(guide.CodeArtifact) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(s.cfg.ArtifactsDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.ArtifactsDir, fmt.Sprintf("%s_d%d_p%d.png", runID, docIndex, guide.PageNumber))
	if err := os.WriteFile(path, guide.CodeArtifact, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func traceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
