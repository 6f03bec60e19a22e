package pipeline

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"guiascan/internal/util"
)

type DetectResult struct {
	IsGuide    bool
	Score      float64
	Reason     string
	PeriodHint string
}

var guideKeywords = []string{"guia", "gps", "inss", "das", "darf", "competencia", "pagamento", "vencimento", "contribuicao"}

// DetectGuideEmail scores whether a fetched email is a guide delivery.
// When the HTML body carries a competência table it also yields the
// period key to use as the run's default target.
func DetectGuideEmail(subject, text, html string, attachmentNames []string) DetectResult {
	subject = util.FoldText(subject)
	text = util.FoldText(text)
	foldedHTML := util.FoldText(html)

	score := 0.0
	for _, kw := range guideKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(text, kw) || strings.Contains(foldedHTML, kw) {
			score += 0.1
		}
	}

	hasPDF := false
	for _, name := range attachmentNames {
		if strings.HasSuffix(strings.ToLower(name), ".pdf") {
			hasPDF = true
			break
		}
	}
	if hasPDF {
		score += 0.35
	}

	if score > 1 {
		score = 1
	}

	isGuide := hasPDF && score >= 0.45
	reason := "rules_negative"
	if isGuide {
		reason = "rules_positive"
	}

	return DetectResult{
		IsGuide:    isGuide,
		Score:      score,
		Reason:     reason,
		PeriodHint: htmlPeriodHint(html),
	}
}

// htmlPeriodHint scans HTML tables for a competência column and returns
// the period key of its first data cell.
func htmlPeriodHint(html string) string {
	if !strings.Contains(strings.ToLower(html), "<table") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	hint := ""
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return true
		}

		periodIdx := -1
		rows.First().Find("th,td").Each(func(i int, cell *goquery.Selection) {
			if periodIdx < 0 && strings.HasPrefix(util.FoldText(cell.Text()), "compet") {
				periodIdx = i
			}
		})
		if periodIdx < 0 {
			return true
		}

		rows.Slice(1, rows.Length()).EachWithBreak(func(_ int, row *goquery.Selection) bool {
			cells := row.Find("th,td")
			if periodIdx >= cells.Length() {
				return true
			}
			value := strings.TrimSpace(cells.Eq(periodIdx).Text())
			if value == "" {
				return true
			}
			if key := util.PeriodKey(value); periodKeyShaped(key) {
				hint = key
				return false
			}
			return true
		})
		return hint == ""
	})

	return hint
}

func periodKeyShaped(key string) bool {
	if len(key) != 7 || key[4] != '-' {
		return false
	}
	for i, r := range key {
		if i == 4 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
