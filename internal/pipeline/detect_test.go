package pipeline

import "testing"

func TestDetectGuideEmailPositive(t *testing.T) {
	res := DetectGuideEmail(
		"Guia GPS Competência Novembro/2024",
		"segue em anexo a guia para pagamento",
		"",
		[]string{"guias.pdf"},
	)
	if !res.IsGuide {
		t.Fatalf("expected guide email, score=%f", res.Score)
	}
	if res.Reason != "rules_positive" {
		t.Fatalf("reason: %q", res.Reason)
	}
}

func TestDetectGuideEmailNoAttachment(t *testing.T) {
	res := DetectGuideEmail(
		"Guia GPS Competência Novembro/2024",
		"segue a guia para pagamento",
		"",
		nil,
	)
	if res.IsGuide {
		t.Fatal("no PDF attachment must never classify as guide")
	}
}

func TestDetectGuideEmailUnrelated(t *testing.T) {
	res := DetectGuideEmail(
		"Reunião de quinta",
		"confirmando o horário",
		"",
		[]string{"pauta.pdf"},
	)
	if res.IsGuide {
		t.Fatalf("unrelated email classified as guide, score=%f", res.Score)
	}
}

func TestDetectGuideEmailPeriodHint(t *testing.T) {
	html := `
		<table>
			<tr><th>Cliente</th><th>Competência</th><th>Valor</th></tr>
			<tr><td>Maria</td><td>Novembro/2024</td><td>R$ 100,50</td></tr>
		</table>`

	res := DetectGuideEmail("Guias do mês", "guia gps", html, []string{"guias.pdf"})
	if res.PeriodHint != "2024-11" {
		t.Fatalf("period hint: got %q", res.PeriodHint)
	}
}

func TestDetectGuideEmailNoPeriodHint(t *testing.T) {
	html := `<table><tr><th>Cliente</th></tr><tr><td>Maria</td></tr></table>`
	res := DetectGuideEmail("Guia gps", "guia", html, []string{"guias.pdf"})
	if res.PeriodHint != "" {
		t.Fatalf("unexpected hint: %q", res.PeriodHint)
	}
}

func TestPeriodKeyShaped(t *testing.T) {
	cases := map[string]bool{
		"2024-11":  true,
		"11/2024":  false,
		"2024-1":   false,
		"novembro": false,
		"":         false,
	}
	for key, want := range cases {
		if got := periodKeyShaped(key); got != want {
			t.Errorf("periodKeyShaped(%q) = %v, want %v", key, got, want)
		}
	}
}
