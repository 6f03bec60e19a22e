package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"guiascan/internal/config"
	"guiascan/internal/connectors"
	gmailconnector "guiascan/internal/connectors/gmail"
	imapconnector "guiascan/internal/connectors/imap"
	"guiascan/internal/directory"
	"guiascan/internal/listener"
	"guiascan/internal/pipeline"
	"guiascan/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "scan":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "path to a guides PDF")
		period := fs.String("period", "", "target competência key YYYY-MM (default: suggested by the document)")
		out := fs.String("out", "", "optional output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}

		processor := pipeline.NewProcessingService(db, cfg)
		progress := func(current, total int) {
			fmt.Printf("\rscanning page %d/%d", current, total)
			if current == total {
				fmt.Println()
			}
		}
		guides, stats, err := processor.ProcessFile(ctx, *input, *period, progress)
		must(err)

		for _, g := range guides {
			client := "-"
			if g.MatchedClientName != nil {
				client = *g.MatchedClientName
			}
			fmt.Printf("page=%d id=%s period=%s amount=%s status=%s client=%s\n",
				g.PageNumber, g.NormalizedIdentifier, g.PeriodKey, g.Amount.String(), g.Status, client)
		}
		fmt.Printf("guides=%d total=%s errors=%d warnings=%d\n",
			stats.Count, stats.TotalValue.String(), stats.ErrorCount, stats.WarningCount)

		if strings.TrimSpace(*out) != "" {
			rows := pipeline.RowsFromReconciled(guides)
			must(pipeline.ExportRowsToXLSX(rows, stats, *out))
			fmt.Printf("exported %d rows to %s\n", len(rows), *out)
		}
	case "sync":
		svc := directory.NewSyncService(db, cfg)
		clients, entries, err := svc.SyncAll(ctx)
		must(err)
		fmt.Printf("sync complete: clients=%d ledger entries=%d\n", clients, entries)
	case "ledger:mark-paid":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		clientID := fs.Int("client", 0, "client id")
		period := fs.String("period", "", "competência, e.g. Novembro/2024 or 11/2024")
		amount := fs.String("amount", "", "paid amount, e.g. 100.50")
		_ = fs.Parse(os.Args[2:])
		if *clientID == 0 || strings.TrimSpace(*period) == "" || strings.TrimSpace(*amount) == "" {
			must(fmt.Errorf("--client --period --amount are required"))
		}
		value, err := decimal.NewFromString(*amount)
		must(err)
		must(db.MarkPaid(ctx, *clientID, *period, value))
		fmt.Printf("marked paid client=%d period=%s amount=%s\n", *clientID, *period, value.String())
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "gmail", "gmail|imap")
		label := fs.String("label", "INBOX", "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(os.Args[2:])
		conn, err := makeConnector(cfg, *provider)
		must(err)
		fetch := connectors.NewFetchService(db, cfg.RawMailDir, conn)
		result, err := fetch.FetchAndStore(*label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d\n", *provider, result.Fetched, result.Stored)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", "gmail", "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(os.Args[2:])
		processor := pipeline.NewProcessingService(db, cfg)
		if strings.TrimSpace(*messageID) != "" {
			res, err := processor.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			fmt.Printf("processed email id=%d documents=%d guides=%d\n", res.EmailID, res.Documents, res.Guides)
			return
		}
		processedEmails, processedGuides, err := processor.ProcessPending(ctx, *batch, *provider)
		must(err)
		fmt.Printf("processed pending emails=%d guides=%d\n", processedEmails, processedGuides)
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		emailID := fs.Int("emailId", 0, "internal email id")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if *emailID == 0 || strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--emailId and --out are required"))
		}
		rows, err := db.GetExportRows(*emailID)
		must(err)
		if len(rows) == 0 {
			must(fmt.Errorf("no guides for emailId=%d", *emailID))
		}
		must(pipeline.ExportRowsToXLSX(rows, pipeline.StatsFromExportRows(rows), *out))
		fmt.Printf("exported %d rows to %s\n", len(rows), *out)
	case "mail:listen":
		s := listener.NewService(db, cfg)
		must(s.Run(ctx))
	default:
		usage()
		os.Exit(1)
	}
}

func makeConnector(cfg config.Config, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func usage() {
	fmt.Println(`usage: guiascan <command> [flags]

commands:
  scan              extract and reconcile guides from a PDF on disk
  sync              refresh clients and ledger entries from the API
  ledger:mark-paid  mark one ledger entry as paid
  mail:fetch        fetch guide emails into the local store
  mail:process      process fetched emails
  export:xlsx       export processed guides of one email
  mail:listen       run the fetch/process/export loop`)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
