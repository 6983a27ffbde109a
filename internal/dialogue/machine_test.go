package dialogue

import (
	"errors"
	"strings"
	"testing"

	"github.com/ordovox/ordovox/internal/extract"
	"github.com/ordovox/ordovox/internal/order"
	"github.com/ordovox/ordovox/pkg/types"
)

var (
	doliprane = types.Product{Key: "3400930000001", DisplayName: "Doliprane 1000mg", UnitPrice: 2.50}
	spasfon   = types.Product{Key: "3400930000003", DisplayName: "Spasfon Lyoc", UnitPrice: 3.20}
)

func candidate(p types.Product, score float64) *types.Candidate {
	return &types.Candidate{Product: p, Score: score, MatchType: "semantic"}
}

// started returns a machine that has played its greeting.
func started(t *testing.T) *Machine {
	t.Helper()
	m := New("call-test")
	effs := m.Handle(CallStarted{})
	if m.State() != Greeting {
		t.Fatalf("state after CallStarted = %v, want Greeting", m.State())
	}
	if len(effs) == 0 {
		t.Fatal("CallStarted produced no effects")
	}
	return m
}

// collecting returns a machine in Collecting with one item drafted.
func collecting(t *testing.T) *Machine {
	t.Helper()
	m := started(t)
	m.Handle(FinalTranscript{Text: "deux boites de doliprane", Confidence: 0.92})
	m.Handle(ItemsResolved{Results: []Resolution{{
		Item:      extract.Item{Name: "doliprane", Quantity: 2, Unit: "boites"},
		Candidate: candidate(doliprane, 0.91),
		InStock:   true,
	}}})
	if m.State() != Collecting || len(m.Context().Items) != 1 {
		t.Fatalf("setup failed: state %v, %d items", m.State(), len(m.Context().Items))
	}
	return m
}

func sayTexts(effs []Effect) []string {
	var out []string
	for _, e := range effs {
		if s, ok := e.(Say); ok {
			out = append(out, s.Text)
		}
	}
	return out
}

func hasEffect[T Effect](effs []Effect) bool {
	for _, e := range effs {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func TestCallStarted_Greets(t *testing.T) {
	m := New("call-1", WithCompanyName("Pharma Centrale"))
	effs := m.Handle(CallStarted{})

	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "Pharma Centrale") {
		t.Fatalf("greeting = %v, want company name spoken", says)
	}
	if !hasEffect[Transition](effs) {
		t.Error("expected a Transition effect")
	}
}

func TestGreeting_FirstUtteranceGoesToExtraction(t *testing.T) {
	m := started(t)
	effs := m.Handle(FinalTranscript{Text: "trois boites de doliprane", Confidence: 0.88})

	if m.State() != Collecting {
		t.Fatalf("state = %v, want Collecting", m.State())
	}
	var ex *Extract
	for _, e := range effs {
		if v, ok := e.(Extract); ok {
			ex = &v
		}
	}
	if ex == nil {
		t.Fatal("expected an Extract effect")
	}
	if ex.Utterance != "trois boites de doliprane" {
		t.Errorf("extract utterance = %q", ex.Utterance)
	}
	if len(ex.History) == 0 {
		t.Error("extract history empty, want recent turns")
	}
}

func TestGreeting_FloorBeatsMeasuredConfidence(t *testing.T) {
	// Measured 0.72 is above the escalation bound, so the pre-check passes,
	// and the greeting floor (0.95) means no clarification round.
	m := started(t)
	effs := m.Handle(FinalTranscript{Text: "du doliprane", Confidence: 0.72})

	if m.State() != Collecting {
		t.Fatalf("state = %v, want Collecting", m.State())
	}
	if !hasEffect[Extract](effs) {
		t.Fatal("expected extraction despite sub-floor measured confidence")
	}
	if m.Context().Attempts() != 0 {
		t.Errorf("attempts = %d, want 0", m.Context().Attempts())
	}
}

func TestGreetingFloor_NotAppendedToMeasuredSequence(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "du doliprane", Confidence: 0.72})
	if got := m.Context().AvgConfidence(); got != 0.72 {
		t.Errorf("avg confidence = %v, want the measured 0.72 only", got)
	}
}

func TestResolved_AcceptedItem(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "deux boites de doliprane", Confidence: 0.92})
	effs := m.Handle(ItemsResolved{Results: []Resolution{{
		Item:      extract.Item{Name: "doliprane", Quantity: 2, Unit: "boites"},
		Candidate: candidate(doliprane, 0.91),
		InStock:   true,
	}}})

	says := sayTexts(effs)
	if len(says) != 1 {
		t.Fatalf("says = %v, want one acknowledgement", says)
	}
	if !strings.Contains(says[0], "2 boites de Doliprane 1000mg") {
		t.Errorf("ack = %q", says[0])
	}
	items := m.Context().Items
	if len(items) != 1 || items[0].Product.Key != doliprane.Key || items[0].MatchScore != 0.91 {
		t.Errorf("draft items = %+v", items)
	}
	if m.State() != Collecting {
		t.Errorf("state = %v, want Collecting", m.State())
	}
}

func TestResolved_EmptyExtractionReprompts(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "euh alors voila", Confidence: 0.90})
	effs := m.Handle(ItemsResolved{})

	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "pas compris") {
		t.Fatalf("says = %v, want the reprompt", says)
	}
	if m.State() != Collecting {
		t.Errorf("state = %v, want Collecting", m.State())
	}
}

func TestResolved_FragmentKinds(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "doliprane, aspirine et spasfon", Confidence: 0.92})
	effs := m.Handle(ItemsResolved{Results: []Resolution{
		{
			Item:      extract.Item{Name: "doliprane", Quantity: 1, Unit: "boites"},
			Candidate: candidate(doliprane, 0.91),
			InStock:   true,
		},
		{
			Item: extract.Item{Name: "aspirine", Quantity: 1, Unit: "boites"},
			// no candidate: not found
		},
		{
			Item:      extract.Item{Name: "spasfon", Quantity: 2, Unit: "tubes"},
			Candidate: candidate(spasfon, 0.88),
			InStock:   false,
		},
	}})

	says := sayTexts(effs)
	if len(says) != 1 {
		t.Fatalf("says = %v, want one joined utterance", says)
	}
	msg := says[0]
	if !strings.Contains(msg, "Bien noté") {
		t.Errorf("missing acknowledgement fragment: %q", msg)
	}
	if !strings.Contains(msg, "aspirine") || !strings.Contains(msg, "pas trouvé") {
		t.Errorf("missing not-found fragment: %q", msg)
	}
	if !strings.Contains(msg, "rupture de stock") {
		t.Errorf("missing out-of-stock fragment: %q", msg)
	}
	items := m.Context().Items
	if len(items) != 2 {
		t.Fatalf("draft items = %d, want the accepted and the out-of-stock one", len(items))
	}
	if items[1].Product.Key != spasfon.Key || items[1].InStock {
		t.Errorf("second draft item = %+v, want spasfon marked out of stock", items[1])
	}
}

func TestResolved_AbsurdQuantityTreatedAsNotFound(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "mille deux cents doliprane", Confidence: 0.92})

	for _, qty := range []int{0, -1, 1001} {
		effs := m.Handle(ItemsResolved{Results: []Resolution{{
			Item:      extract.Item{Name: "doliprane", Quantity: qty, Unit: "boites"},
			Candidate: candidate(doliprane, 0.91),
			InStock:   true,
		}}})
		says := sayTexts(effs)
		if len(says) != 1 || !strings.Contains(says[0], "pas trouvé") {
			t.Errorf("quantity %d: says = %v, want not-found", qty, says)
		}
	}
	if len(m.Context().Items) != 0 {
		t.Errorf("draft items = %d, want 0", len(m.Context().Items))
	}
}

func TestFinalizeKeyword_RecapWithCommaJoin(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "un tube de spasfon", Confidence: 0.9})
	m.Handle(ItemsResolved{Results: []Resolution{{
		Item:      extract.Item{Name: "spasfon", Quantity: 1, Unit: "tubes"},
		Candidate: candidate(spasfon, 0.89),
		InStock:   true,
	}}})

	effs := m.Handle(FinalTranscript{Text: "c'est tout merci", Confidence: 0.95})
	if m.State() != Confirming {
		t.Fatalf("state = %v, want Confirming", m.State())
	}
	says := sayTexts(effs)
	if len(says) != 1 {
		t.Fatalf("says = %v", says)
	}
	want := "2 boites de Doliprane 1000mg, 1 tubes de Spasfon Lyoc"
	if !strings.Contains(says[0], want) {
		t.Errorf("recap = %q, want fragment %q", says[0], want)
	}
}

func TestFinalizeKeyword_BeatsLowConfidence(t *testing.T) {
	m := collecting(t)
	// Keep the running average above the escalation bound.
	effs := m.Handle(FinalTranscript{Text: "je valide", Confidence: 0.68})
	if m.State() != Confirming {
		t.Fatalf("state = %v, want Confirming (keyword wins over confidence)", m.State())
	}
	if m.Context().Attempts() != 0 {
		t.Errorf("attempts = %d, want 0", m.Context().Attempts())
	}
	if got := sayTexts(effs); len(got) != 1 || !strings.Contains(got[0], "Récapitulatif") {
		t.Errorf("says = %v", got)
	}
}

func TestLowConfidence_Clarifies(t *testing.T) {
	m := collecting(t)
	effs := m.Handle(FinalTranscript{Text: "mmh brmblj", Confidence: 0.65})

	if m.State() != Clarifying {
		t.Fatalf("state = %v, want Clarifying", m.State())
	}
	if m.Context().Attempts() != 1 {
		t.Errorf("attempts = %d, want 1", m.Context().Attempts())
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "répéter") {
		t.Errorf("says = %v, want clarify prompt", says)
	}
}

func TestClarifying_ReprocessesAtFloor(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "mmh brmblj", Confidence: 0.65})

	// The repeat is measured at 0.72: below the clarifying floor logic would
	// not matter since the floor 0.85 applies, so extraction runs.
	effs := m.Handle(FinalTranscript{Text: "du spasfon", Confidence: 0.82})
	if m.State() != Collecting {
		t.Fatalf("state = %v, want Collecting", m.State())
	}
	if !hasEffect[Extract](effs) {
		t.Error("expected extraction after clarification")
	}
}

func TestEscalation_LowAverageConfidence(t *testing.T) {
	m := started(t)
	effs := m.Handle(FinalTranscript{Text: "grsmbl", Confidence: 0.40})

	if m.State() != Transferring {
		t.Fatalf("state = %v, want Transferring", m.State())
	}
	if !hasEffect[Transfer](effs) {
		t.Error("expected a Transfer effect")
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "transfère") {
		t.Errorf("says = %v, want transfer message", says)
	}
}

func TestEscalation_AttemptLimit(t *testing.T) {
	m := collecting(t)
	for range 3 {
		m.Context().IncrementAttempts()
	}
	effs := m.Handle(FinalTranscript{Text: "deux doliprane", Confidence: 0.95})

	if m.State() != Transferring {
		t.Fatalf("state = %v, want Transferring after 3 attempts", m.State())
	}
	if !hasEffect[Transfer](effs) {
		t.Error("expected a Transfer effect")
	}
}

func TestEscalation_EmptyConfidenceSequenceDoesNotEscalate(t *testing.T) {
	m := New("call-1")
	if got := m.Context().AvgConfidence(); got != 0 {
		t.Fatalf("avg = %v, want 0", got)
	}
	m.Handle(CallStarted{})
	if m.State() != Greeting {
		t.Errorf("state = %v, want Greeting (avg 0 must not escalate)", m.State())
	}
}

func TestConfirming_AffirmativeFinalizes(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})

	effs := m.Handle(FinalTranscript{Text: "oui", Confidence: 0.95})
	if m.State() != Processing {
		t.Fatalf("state = %v, want Processing", m.State())
	}
	var fin *Finalize
	for _, e := range effs {
		if v, ok := e.(Finalize); ok {
			fin = &v
		}
	}
	if fin == nil {
		t.Fatal("expected a Finalize effect")
	}
	if len(fin.Items) != 1 || fin.Items[0].Product.Key != doliprane.Key || !fin.Items[0].InStock {
		t.Errorf("finalize items = %+v", fin.Items)
	}
	if fin.AvgConfidence != m.Context().AvgConfidence() || fin.AvgConfidence <= 0 {
		t.Errorf("finalize avg confidence = %v, want the call average %v",
			fin.AvgConfidence, m.Context().AvgConfidence())
	}
}

func TestConfirming_OutOfStockOnlyDraftStillFinalizes(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "trois boites de smecta", Confidence: 0.92})
	m.Handle(ItemsResolved{Results: []Resolution{{
		Item:      extract.Item{Name: "smecta", Quantity: 3, Unit: "boites"},
		Candidate: candidate(spasfon, 0.90),
		InStock:   false,
	}}})

	effs := m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})
	if m.State() != Confirming {
		t.Fatalf("state = %v, want Confirming", m.State())
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "Aucun produit") {
		t.Errorf("recap = %v, want no sellable products read back", says)
	}

	effs = m.Handle(FinalTranscript{Text: "oui", Confidence: 0.95})
	if m.State() != Processing {
		t.Fatalf("state = %v, want Processing", m.State())
	}
	var fin *Finalize
	for _, e := range effs {
		if v, ok := e.(Finalize); ok {
			fin = &v
		}
	}
	if fin == nil {
		t.Fatal("expected a Finalize effect carrying the unavailable line")
	}
	if len(fin.Items) != 1 || fin.Items[0].InStock {
		t.Errorf("finalize items = %+v, want the out-of-stock line kept", fin.Items)
	}
}

func TestConfirming_OrderSuccessCompletesAndHangsUp(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})
	m.Handle(FinalTranscript{Text: "oui", Confidence: 0.95})

	effs := m.Handle(OrderFinalized{Order: order.Order{ID: "CMD-1724580000000"}})
	if m.State() != Completed {
		t.Fatalf("state = %v, want Completed", m.State())
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "CMD-1724580000000") {
		t.Errorf("says = %v, want the order number spoken", says)
	}
	if !hasEffect[Hangup](effs) {
		t.Error("expected a Hangup effect")
	}
}

func TestConfirming_OrderFailureGoesToError(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})
	m.Handle(FinalTranscript{Text: "oui", Confidence: 0.95})

	effs := m.Handle(OrderFinalized{Err: errors.New("sink down")})
	if m.State() != Error {
		t.Fatalf("state = %v, want Error", m.State())
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "problème technique") {
		t.Errorf("says = %v, want error message", says)
	}
	if hasEffect[Hangup](effs) {
		t.Error("no Hangup expected on failure")
	}
}

func TestConfirming_AdditiveReopensCollecting(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})

	effs := m.Handle(FinalTranscript{Text: "en plus du smecta", Confidence: 0.95})
	if m.State() != Collecting {
		t.Fatalf("state = %v, want Collecting", m.State())
	}
	if !hasEffect[Extract](effs) {
		t.Error("expected extraction of the additional utterance")
	}
}

func TestConfirming_AffirmativeWinsOverAdditive(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})

	effs := m.Handle(FinalTranscript{Text: "oui ajoute", Confidence: 0.95})
	if m.State() != Processing {
		t.Fatalf("state = %v, want Processing (affirmative wins)", m.State())
	}
	if !hasEffect[Finalize](effs) {
		t.Error("expected a Finalize effect")
	}
}

func TestConfirming_OtherReopensWithModifyPrompt(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})

	effs := m.Handle(FinalTranscript{Text: "enlève le doliprane", Confidence: 0.95})
	if m.State() != Collecting {
		t.Fatalf("state = %v, want Collecting", m.State())
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "modifier") {
		t.Errorf("says = %v, want modification prompt", says)
	}
}

func TestTerminalState_IgnoresTranscripts(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "grsmbl", Confidence: 0.40})
	if m.State() != Transferring {
		t.Fatalf("setup: state = %v", m.State())
	}

	effs := m.Handle(FinalTranscript{Text: "allo ?", Confidence: 0.95})
	if len(effs) != 0 {
		t.Errorf("effects in terminal state = %v, want none", effs)
	}
}

func TestTurnRing_Capped(t *testing.T) {
	c := NewContext("call-1")
	for i := 0; i < 20; i++ {
		c.AddTurn("user", strings.Repeat("a", i+1))
	}
	h := c.History()
	if len(h) != turnRingCap {
		t.Fatalf("history length = %d, want %d", len(h), turnRingCap)
	}
	if len(h[0].Content) != 20-turnRingCap+1 {
		t.Errorf("oldest retained turn = %q, eviction order wrong", h[0].Content)
	}
}

func TestFormatRecap_Empty(t *testing.T) {
	if got := formatRecap(nil); got != "Aucun produit" {
		t.Errorf("formatRecap(nil) = %q", got)
	}
}

func TestFormatRecap_SkipsOutOfStockLines(t *testing.T) {
	items := []DraftItem{
		{Product: doliprane, Quantity: 2, Unit: "boites", InStock: true},
		{Product: spasfon, Quantity: 1, Unit: "tubes", InStock: false},
	}
	got := formatRecap(items)
	if !strings.Contains(got, "Doliprane 1000mg") {
		t.Errorf("recap = %q, want the sellable line", got)
	}
	if strings.Contains(got, "Spasfon") {
		t.Errorf("recap = %q, unavailable line must not be read back", got)
	}
}

func TestTranscriptionLost_TransfersMidConversation(t *testing.T) {
	m := collecting(t)
	effs := m.Handle(TranscriptionLost{})

	if m.State() != Transferring {
		t.Fatalf("state = %v, want Transferring", m.State())
	}
	if !hasEffect[Transfer](effs) {
		t.Error("expected a Transfer effect")
	}
	says := sayTexts(effs)
	if len(says) != 1 || !strings.Contains(says[0], "transfère") {
		t.Errorf("says = %v, want the handover announcement", says)
	}
}

func TestTranscriptionLost_IgnoredDuringProcessing(t *testing.T) {
	m := collecting(t)
	m.Handle(FinalTranscript{Text: "c'est tout", Confidence: 0.95})
	m.Handle(FinalTranscript{Text: "oui", Confidence: 0.95})
	if m.State() != Processing {
		t.Fatalf("setup: state = %v", m.State())
	}

	if effs := m.Handle(TranscriptionLost{}); len(effs) != 0 {
		t.Errorf("effects = %v, want none while the order is finalizing", effs)
	}
	if m.State() != Processing {
		t.Errorf("state = %v, want Processing preserved", m.State())
	}
}

func TestTranscriptionLost_IgnoredInTerminalState(t *testing.T) {
	m := started(t)
	m.Handle(FinalTranscript{Text: "grsmbl", Confidence: 0.40})
	if m.State() != Transferring {
		t.Fatalf("setup: state = %v", m.State())
	}

	if effs := m.Handle(TranscriptionLost{}); len(effs) != 0 {
		t.Errorf("effects = %v, want none in a terminal state", effs)
	}
}
