package pipeline

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"guiascan/internal"
	"guiascan/internal/util"
)

// Field companions are looked for within the next few tokens after their
// label; the guide layout keeps label and value close but not adjacent.
const fieldLookahead = 5

var (
	cpfPattern         = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)
	periodValuePattern = regexp.MustCompile(`^[0-9a-z]+/\d{4}$`)
)

var periodLabelPrefixes = []string{"compet", "apurac", "referenc"}

type PageFields struct {
	RawIdentifier string
	RawPeriod     string
	Amount        decimal.Decimal
}

// fieldAccumulator keeps the first-match-wins rule explicit: a field once
// set is never overwritten by a later label or candidate.
type fieldAccumulator struct {
	identifier string
	amountRaw  string
	periodRaw  string
}

func (a *fieldAccumulator) complete() bool {
	return a.amountRaw != "" && a.periodRaw != ""
}

// ExtractFields walks the token sequence once, left to right. A page
// yields fields only when both the amount and the competência were found;
// the identifier is optional and defaults to the sentinel.
func ExtractFields(tokens []string) (PageFields, bool) {
	acc := fieldAccumulator{}

	for i, token := range tokens {
		if acc.identifier == "" && cpfPattern.MatchString(token) {
			acc.identifier = token
		}

		if acc.amountRaw == "" && isAmountLabel(tokens, i) {
			acc.amountRaw = lookAhead(tokens, i, util.LooksLikeCurrency)
		}

		if acc.periodRaw == "" && isPeriodLabel(token) {
			acc.periodRaw = lookAhead(tokens, i, func(t string) bool {
				return periodValuePattern.MatchString(util.FoldText(t))
			})
		}
	}

	if !acc.complete() {
		return PageFields{}, false
	}

	amount, err := util.ParseAmount(acc.amountRaw)
	if err != nil {
		return PageFields{}, false
	}

	identifier := acc.identifier
	if identifier == "" {
		identifier = internal.IdentifierNotFound
	}

	return PageFields{
		RawIdentifier: identifier,
		RawPeriod:     acc.periodRaw,
		Amount:        amount,
	}, true
}

// "Valor Total" arrives as two whitespace tokens; the label is the
// "total" token with "valor" right before it.
func isAmountLabel(tokens []string, i int) bool {
	if i == 0 {
		return false
	}
	return stripLabelToken(tokens[i]) == "total" && stripLabelToken(tokens[i-1]) == "valor"
}

func isPeriodLabel(token string) bool {
	folded := stripLabelToken(token)
	for _, prefix := range periodLabelPrefixes {
		if strings.HasPrefix(folded, prefix) {
			return true
		}
	}
	return false
}

func stripLabelToken(token string) string {
	return strings.TrimRight(util.FoldText(token), ":.")
}

func lookAhead(tokens []string, from int, match func(string) bool) string {
	limit := from + fieldLookahead
	for j := from + 1; j <= limit && j < len(tokens); j++ {
		if match(tokens[j]) {
			return tokens[j]
		}
	}
	return ""
}
