package util

import (
	"fmt"
	"strconv"
	"strings"
)

var monthByName = map[string]string{
	"janeiro": "01", "jan": "01",
	"fevereiro": "02", "fev": "02",
	"marco": "03", "mar": "03",
	"abril": "04", "abr": "04",
	"maio": "05", "mai": "05",
	"junho": "06", "jun": "06",
	"julho": "07", "jul": "07",
	"agosto": "08", "ago": "08",
	"setembro": "09", "set": "09",
	"outubro": "10", "out": "10",
	"novembro": "11", "nov": "11",
	"dezembro": "12", "dez": "12",
}

var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

// FoldText lower-cases and strips pt-BR accents for keyword comparison.
func FoldText(input string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(input)))
}

// NormalizePeriod canonicalizes a competência string ("Março/24",
// "03/2024", "nov/2024") into its MM/YYYY display form. Unparseable input
// comes back lower-cased and trimmed instead of failing.
func NormalizePeriod(raw string) string {
	month, year, ok := splitPeriod(raw)
	if !ok {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return month + "/" + year
}

// PeriodKey is the YYYY-MM lookup form of NormalizePeriod.
func PeriodKey(raw string) string {
	month, year, ok := splitPeriod(raw)
	if !ok {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return year + "-" + month
}

func splitPeriod(raw string) (month, year string, ok bool) {
	parts := strings.Split(FoldText(raw), "/")
	if len(parts) != 2 {
		return "", "", false
	}

	month = parseMonth(strings.TrimSpace(parts[0]))
	if month == "" {
		return "", "", false
	}

	year = strings.TrimSpace(parts[1])
	switch len(year) {
	case 2:
		year = "20" + year
	case 4:
	default:
		return "", "", false
	}
	if _, err := strconv.Atoi(year); err != nil {
		return "", "", false
	}

	return month, year, true
}

func parseMonth(token string) string {
	if n, err := strconv.Atoi(token); err == nil {
		if n >= 1 && n <= 12 {
			return fmt.Sprintf("%02d", n)
		}
		return ""
	}
	if m, found := monthByName[token]; found {
		return m
	}
	return ""
}
