package pipeline

import (
	"context"
	"errors"
	"log"

	"guiascan/internal"
	"guiascan/internal/util"
)

var ErrNoGuides = errors.New("no valid guides found in document")

type ScanResult struct {
	Guides          []internal.ExtractedGuide
	SuggestedPeriod string
	PagesTotal      int
	PagesSkipped    int
}

// ProgressFunc receives a monotonically increasing (current, total) signal
// after each page.
type ProgressFunc func(current, total int)

// ScanDocument walks the document one page at a time: render, locate the
// payment code, crop the artifact, tokenize, extract fields. Pages are
// strictly sequential so at most one bitmap is alive at a time, and
// cancellation is honored at every page boundary. A page that fails to
// render or yields incomplete fields is skipped; the batch continues.
func ScanDocument(ctx context.Context, blob []byte, progress ProgressFunc) (*ScanResult, error) {
	doc, err := OpenDocument(blob)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	total := doc.PageCount()
	result := &ScanResult{PagesTotal: total}

	for pageNumber := 1; pageNumber <= total; pageNumber++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		guide, ok := scanPage(doc, pageNumber)
		if !ok {
			result.PagesSkipped++
		} else {
			result.Guides = append(result.Guides, guide)
		}

		if progress != nil {
			progress(pageNumber, total)
		}
	}

	if len(result.Guides) == 0 {
		return nil, ErrNoGuides
	}
	result.SuggestedPeriod = result.Guides[0].PeriodKey

	return result, nil
}

func scanPage(doc *Document, pageNumber int) (internal.ExtractedGuide, bool) {
	img, err := doc.RenderPage(pageNumber)
	if err != nil {
		log.Printf("scan: skipping page %d: %v", pageNumber, err)
		return internal.ExtractedGuide{}, false
	}

	corners, found := LocateCode(img)
	artifact := CropArtifact(img, corners, found)

	tokens, err := doc.PageTokens(pageNumber)
	if err != nil {
		log.Printf("scan: skipping page %d: %v", pageNumber, err)
		return internal.ExtractedGuide{}, false
	}

	fields, ok := ExtractFields(tokens)
	if !ok {
		log.Printf("scan: page %d: incomplete guide fields, dropped", pageNumber)
		return internal.ExtractedGuide{}, false
	}

	return internal.ExtractedGuide{
		PageNumber:    pageNumber,
		RawIdentifier: fields.RawIdentifier,
		RawPeriod:     fields.RawPeriod,
		PeriodKey:     util.PeriodKey(fields.RawPeriod),
		Amount:        fields.Amount,
		CodeArtifact:  artifact,
	}, true
}
