package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quote-agent/internal/basket"
	"quote-agent/internal/clock"
	"quote-agent/internal/domain"
	"quote-agent/internal/quote"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeExtractor struct {
	items   []domain.ItemRequest
	err     error
	history []domain.Turn
	merged  string
}

func (f *fakeExtractor) ExtractItems(_ context.Context, merged string, history []domain.Turn) ([]domain.ItemRequest, error) {
	f.merged = merged
	f.history = history
	return f.items, f.err
}

type fakeSessionLog struct {
	appended   []domain.Turn
	appendErr  error
	recent     []domain.Turn
	recentErr  error
	firstToday bool
	firstErr   error
}

func (f *fakeSessionLog) Append(_ context.Context, userID, role, content string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, domain.Turn{UserID: userID, Role: role, Content: content})
	return nil
}

func (f *fakeSessionLog) Recent(_ context.Context, _ string, _ int) ([]domain.Turn, error) {
	return f.recent, f.recentErr
}

func (f *fakeSessionLog) IsFirstToday(_ context.Context, _ string, _ time.Time) (bool, error) {
	return f.firstToday, f.firstErr
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, _ string, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type fakeIngester struct {
	calls []string
}

func (f *fakeIngester) Ingest(userID, content string) {
	f.calls = append(f.calls, userID+"|"+content)
}

type fakeCatalog struct {
	offers []domain.CatalogOffer
	err    error
}

func (f *fakeCatalog) Query(_ context.Context, category, spec string) ([]domain.CatalogOffer, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.CatalogOffer
	for _, o := range f.offers {
		if !strings.EqualFold(o.Category, category) {
			continue
		}
		if spec != "" && !o.MatchesSpec(spec) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// fixture
// ---------------------------------------------------------------------------

var quoteCatalog = []domain.CatalogOffer{
	{VendorID: "v1", VendorName: "Loja Um", ItemName: "Cimento CP-II 50kg", Category: "cimento", SpecTags: []string{"cp-ii", "50kg"}, UnitPrice: 32.90, Currency: "BRL"},
	{VendorID: "v2", VendorName: "Loja Dois", ItemName: "Cimento CP-II 50kg", Category: "cimento", SpecTags: []string{"cp-ii", "50kg"}, UnitPrice: 31.50, Currency: "BRL"},
	{VendorID: "v1", VendorName: "Loja Um", ItemName: "Areia Média m³", Category: "areia", SpecTags: []string{"media"}, UnitPrice: 120.00, Currency: "BRL"},
	{VendorID: "v2", VendorName: "Loja Dois", ItemName: "Areia Média m³", Category: "areia", SpecTags: []string{"media"}, UnitPrice: 126.00, Currency: "BRL"},
}

type fixture struct {
	pipeline  *Pipeline
	extractor *fakeExtractor
	sessions  *fakeSessionLog
	sender    *fakeSender
	ingester  *fakeIngester
	clk       *clock.Fake
}

func newFixture(t *testing.T, cat *fakeCatalog) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	engine, err := basket.NewEngine(cat, 30*time.Minute, clk, zerolog.Nop())
	require.NoError(t, err)
	quotes, err := quote.NewManager(30*time.Minute, clk, zerolog.Nop())
	require.NoError(t, err)

	ex := &fakeExtractor{}
	sl := &fakeSessionLog{}
	sn := &fakeSender{}
	p, err := New(ex, sl, sn, engine, quotes, clk, 10, zerolog.Nop())
	require.NoError(t, err)
	ing := &fakeIngester{}
	p.Bind(ing)

	return &fixture{pipeline: p, extractor: ex, sessions: sl, sender: sn, ingester: ing, clk: clk}
}

func singleItem(category, spec string, qty int) []domain.ItemRequest {
	return []domain.ItemRequest{{RawMention: category, Category: category, Specification: spec, Quantity: qty}}
}

// ---------------------------------------------------------------------------
// HandleInbound
// ---------------------------------------------------------------------------

func TestHandleInbound_ForwardsToDebouncer(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	err := f.pipeline.HandleInbound(context.Background(), "5511999", "quero cimento")
	require.NoError(t, err)
	require.Equal(t, []string{"5511999|quero cimento"}, f.ingester.calls)
	require.Len(t, f.sessions.appended, 1)
	require.Equal(t, domain.RoleUser, f.sessions.appended[0].Role)
	require.Empty(t, f.sender.sent, "no welcome on a regular day")
}

func TestHandleInbound_WelcomeOnFirstOfDay(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.sessions.firstToday = true

	err := f.pipeline.HandleInbound(context.Background(), "5511999", "bom dia")
	require.NoError(t, err)
	require.Len(t, f.sender.sent, 1)
	require.Contains(t, f.sender.sent[0], "RADAR DE PREÇOS")
	// welcome goes out before settling; the message itself still debounces
	require.Equal(t, []string{"5511999|bom dia"}, f.ingester.calls)
}

func TestHandleInbound_FirstOfDayCheckFailureSkipsWelcome(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.sessions.firstErr = errors.New("dynamodb down")

	err := f.pipeline.HandleInbound(context.Background(), "5511999", "oi")
	require.NoError(t, err)
	require.Empty(t, f.sender.sent)
	require.Equal(t, []string{"5511999|oi"}, f.ingester.calls)
}

func TestHandleInbound_AppendFailureStillIngests(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.sessions.appendErr = errors.New("dynamodb down")

	err := f.pipeline.HandleInbound(context.Background(), "5511999", "quero cimento")
	require.NoError(t, err)
	require.Equal(t, []string{"5511999|quero cimento"}, f.ingester.calls)
}

func TestHandleInbound_EmptyInput(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})

	err := f.pipeline.HandleInbound(context.Background(), "", "oi")
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ErrorInvalidInput, ue.Code)

	err = f.pipeline.HandleInbound(context.Background(), "5511999", "   ")
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ErrorInvalidInput, ue.Code)
	require.Empty(t, f.ingester.calls)
}

// ---------------------------------------------------------------------------
// ProcessSettled — request path
// ---------------------------------------------------------------------------

func TestProcessSettled_CompleteBasketProducesQuote(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = singleItem("cimento", "cp-ii", 2)

	f.pipeline.ProcessSettled("5511999", "quero 2 sacos de cimento cp-ii")

	reply := f.sender.last(t)
	require.Contains(t, reply, "Orçamento Completo")
	require.Contains(t, reply, "🏆 *Loja Dois*: R$ 63.00")
	require.Contains(t, reply, "Economia")
	require.Contains(t, reply, "1️⃣ Finalizar compra na Loja Dois")

	// reply is recorded as an assistant turn
	require.Len(t, f.sessions.appended, 1)
	require.Equal(t, domain.RoleAssistant, f.sessions.appended[0].Role)
}

func TestProcessSettled_NoItemsAndNoOpenLine(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = nil

	f.pipeline.ProcessSettled("5511999", "bom dia, tudo bem?")
	require.Contains(t, f.sender.last(t), "Não consegui identificar itens")
}

func TestProcessSettled_ExtractionErrorIsGenericFailure(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.err = errors.New("upstream 500")

	f.pipeline.ProcessSettled("5511999", "quero cimento")
	require.Contains(t, f.sender.last(t), "erro ao processar")
}

func TestProcessSettled_CatalogErrorIsDegradedService(t *testing.T) {
	f := newFixture(t, &fakeCatalog{err: errors.New("sqlite locked")})
	f.extractor.items = singleItem("cimento", "", 1)

	f.pipeline.ProcessSettled("5511999", "quero cimento")
	require.Contains(t, f.sender.last(t), "dificuldade para consultar o catálogo")
}

func TestProcessSettled_AmbiguousLineAsksClarification(t *testing.T) {
	offers := append([]domain.CatalogOffer{}, quoteCatalog...)
	offers = append(offers, domain.CatalogOffer{
		VendorID: "v1", VendorName: "Loja Um", ItemName: "Cimento CP-IV 50kg",
		Category: "cimento", SpecTags: []string{"cp-iv", "50kg"}, UnitPrice: 35.00, Currency: "BRL",
	})
	f := newFixture(t, &fakeCatalog{offers: offers})
	f.extractor.items = singleItem("cimento", "", 1)

	f.pipeline.ProcessSettled("5511999", "quero cimento")
	reply := f.sender.last(t)
	require.Contains(t, reply, "mais de uma opção de *cimento*")
	require.Contains(t, reply, "1. cp-ii, 50kg")
}

func TestProcessSettled_ClarificationAnswerCompletesQuote(t *testing.T) {
	offers := append([]domain.CatalogOffer{}, quoteCatalog...)
	offers = append(offers, domain.CatalogOffer{
		VendorID: "v1", VendorName: "Loja Um", ItemName: "Cimento CP-IV 50kg",
		Category: "cimento", SpecTags: []string{"cp-iv", "50kg"}, UnitPrice: 35.00, Currency: "BRL",
	})
	f := newFixture(t, &fakeCatalog{offers: offers})

	f.extractor.items = singleItem("cimento", "", 1)
	f.pipeline.ProcessSettled("5511999", "quero cimento")
	require.Contains(t, f.sender.last(t), "Qual você prefere?")

	// the answer itself extracts to nothing; it routes to the open line
	f.extractor.items = nil
	f.pipeline.ProcessSettled("5511999", "cp-ii")
	require.Contains(t, f.sender.last(t), "Orçamento Completo")
	require.Contains(t, f.sender.last(t), "Loja Dois")
}

func TestProcessSettled_UnansweredClarificationReasks(t *testing.T) {
	offers := append([]domain.CatalogOffer{}, quoteCatalog...)
	offers = append(offers, domain.CatalogOffer{
		VendorID: "v1", VendorName: "Loja Um", ItemName: "Cimento CP-IV 50kg",
		Category: "cimento", SpecTags: []string{"cp-iv", "50kg"}, UnitPrice: 35.00, Currency: "BRL",
	})
	f := newFixture(t, &fakeCatalog{offers: offers})

	f.extractor.items = singleItem("cimento", "", 1)
	f.pipeline.ProcessSettled("5511999", "quero cimento")

	f.extractor.items = nil
	f.pipeline.ProcessSettled("5511999", "qualquer um serve")
	require.Contains(t, f.sender.last(t), "Qual você prefere?")
}

func TestProcessSettled_AllCategoriesUnavailable(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = singleItem("telha", "", 1)

	f.pipeline.ProcessSettled("5511999", "quero telha")
	require.Contains(t, f.sender.last(t), "Sem ofertas no momento para: telha")

	// the dead basket was discarded; the next request starts clean
	f.extractor.items = singleItem("cimento", "cp-ii", 1)
	f.pipeline.ProcessSettled("5511999", "então cimento cp-ii")
	require.Contains(t, f.sender.last(t), "Orçamento Completo")
	require.NotContains(t, f.sender.last(t), "telha")
}

func TestProcessSettled_PartialUnavailabilityStillQuotes(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = []domain.ItemRequest{
		{RawMention: "cimento", Category: "cimento", Specification: "cp-ii", Quantity: 1},
		{RawMention: "telha", Category: "telha", Quantity: 1},
	}

	f.pipeline.ProcessSettled("5511999", "cimento cp-ii e telha")
	reply := f.sender.last(t)
	require.Contains(t, reply, "Orçamento Completo")
	require.Contains(t, reply, "Sem ofertas no momento para: telha")
}

func TestProcessSettled_HistoryPassedToExtractor(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.sessions.recent = []domain.Turn{{Role: domain.RoleUser, Content: "ontem pedi cimento"}}
	f.extractor.items = nil

	f.pipeline.ProcessSettled("5511999", "o mesmo de ontem")
	require.Equal(t, "o mesmo de ontem", f.extractor.merged)
	require.Len(t, f.extractor.history, 1)
}

func TestProcessSettled_HistoryFailureDegradesToNoContext(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.sessions.recentErr = errors.New("dynamodb down")
	f.extractor.items = singleItem("cimento", "cp-ii", 1)

	f.pipeline.ProcessSettled("5511999", "quero cimento cp-ii")
	require.Nil(t, f.extractor.history)
	require.Contains(t, f.sender.last(t), "Orçamento Completo")
}

// ---------------------------------------------------------------------------
// ProcessSettled — menu path
// ---------------------------------------------------------------------------

func showQuote(t *testing.T, f *fixture) {
	t.Helper()
	f.extractor.items = []domain.ItemRequest{
		{RawMention: "cimento", Category: "cimento", Specification: "cp-ii", Quantity: 2},
		{RawMention: "areia", Category: "areia", Quantity: 1},
	}
	f.pipeline.ProcessSettled("5511999", "2 cimento cp-ii e areia")
	require.Contains(t, f.sender.last(t), "Orçamento Completo")
	f.extractor.items = nil
}

func TestProcessSettled_MenuShowBestAndBack(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	f.pipeline.ProcessSettled("5511999", "2")
	require.Contains(t, f.sender.last(t), "2x Cimento CP-II 50kg")

	f.pipeline.ProcessSettled("5511999", "0")
	require.Contains(t, f.sender.last(t), "Orçamento Completo")
}

func TestProcessSettled_MenuShowAll(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	f.pipeline.ProcessSettled("5511999", "3")
	reply := f.sender.last(t)
	require.Contains(t, reply, "Detalhes de Todas as Lojas")
	require.Contains(t, reply, "Loja Um")
	require.Contains(t, reply, "Loja Dois")
}

func TestProcessSettled_MenuFinalize(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	f.pipeline.ProcessSettled("5511999", "1")
	reply := f.sender.last(t)
	require.Contains(t, reply, "Compra finalizada")
	// v1 at 185.80 beats v2 at 189.00 for the full basket
	require.Contains(t, reply, "Loja Um")
	require.Contains(t, reply, "PED-")
}

func TestProcessSettled_FinalizeFromDetailView(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	f.pipeline.ProcessSettled("5511999", "2")
	f.pipeline.ProcessSettled("5511999", "1")
	require.Contains(t, f.sender.last(t), "Compra finalizada")
}

func TestProcessSettled_EmojiKeycapDigit(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	f.pipeline.ProcessSettled("5511999", "2️⃣")
	require.Contains(t, f.sender.last(t), "2x Cimento CP-II 50kg")
}

func TestProcessSettled_InvalidMenuDigitRerendersView(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	// "0" has no meaning while the summary is shown
	f.pipeline.ProcessSettled("5511999", "0")
	require.Contains(t, f.sender.last(t), "Orçamento Completo")
}

func TestProcessSettled_MenuDigitAfterFinalize(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)
	f.pipeline.ProcessSettled("5511999", "1")

	f.pipeline.ProcessSettled("5511999", "2")
	require.Contains(t, f.sender.last(t), "já foi finalizado")
}

func TestProcessSettled_NewRequestAfterFinalize(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)
	f.pipeline.ProcessSettled("5511999", "1")

	f.extractor.items = singleItem("areia", "", 1)
	f.pipeline.ProcessSettled("5511999", "agora só areia")
	reply := f.sender.last(t)
	require.Contains(t, reply, "Orçamento Completo")
	require.NotContains(t, reply, "Cimento")
}

func TestProcessSettled_NewRequestWhileQuoteShownStartsFreshBasket(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = singleItem("cimento", "cp-ii", 1)
	f.pipeline.ProcessSettled("5511999", "cimento cp-ii")
	require.Contains(t, f.sender.last(t), "Orçamento Completo")

	// a non-menu message supersedes the shown quote entirely
	f.extractor.items = singleItem("areia", "", 1)
	f.pipeline.ProcessSettled("5511999", "deixa pra lá, só areia")
	reply := f.sender.last(t)
	require.Contains(t, reply, "Orçamento Completo")
	require.Contains(t, reply, "🏆 *Loja Um*: R$ 120.00")
	require.NotContains(t, reply, "31.50")
}

func TestProcessSettled_MenuDigitWhileCollectingIsARequest(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = nil

	f.pipeline.ProcessSettled("5511999", "1")
	require.Contains(t, f.sender.last(t), "Não consegui identificar itens")
}

func TestProcessSettled_StaleSessionDigitIsARequest(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	showQuote(t, f)

	f.clk.Advance(31 * time.Minute)
	f.extractor.items = nil
	f.pipeline.ProcessSettled("5511999", "1")
	require.Contains(t, f.sender.last(t), "Não consegui identificar itens")
}

func TestProcessSettled_SendFailureSkipsAssistantTurn(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.extractor.items = singleItem("cimento", "cp-ii", 1)
	f.sender.err = errors.New("channel down")

	f.pipeline.ProcessSettled("5511999", "cimento cp-ii")
	require.Empty(t, f.sessions.appended)
}

func TestProcessSettled_FailureLogsCarryTaxonomyCodes(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	clk := clock.NewFake(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	engine, err := basket.NewEngine(&fakeCatalog{offers: quoteCatalog}, 30*time.Minute, clk, log)
	require.NoError(t, err)
	quotes, err := quote.NewManager(30*time.Minute, clk, log)
	require.NoError(t, err)

	sl := &fakeSessionLog{recentErr: errors.New("dynamodb down")}
	p, err := New(&fakeExtractor{}, sl, &fakeSender{}, engine, quotes, clk, 10, log)
	require.NoError(t, err)
	p.Bind(&fakeIngester{})

	// recent fails, extraction yields nothing, no open clarification
	p.ProcessSettled("5511999", "bom dia")
	require.Contains(t, buf.String(), string(ErrorSessionStore))
	require.Contains(t, buf.String(), string(ErrorExtractionEmpty))

	buf.Reset()
	sl.recentErr = nil
	sl.firstErr = errors.New("dynamodb down")
	require.NoError(t, p.HandleInbound(context.Background(), "5511999", "oi"))
	require.Contains(t, buf.String(), string(ErrorSessionStore))
}

// ---------------------------------------------------------------------------
// constructor
// ---------------------------------------------------------------------------

func TestNew_NilDependencies(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	engine, err := basket.NewEngine(&fakeCatalog{}, time.Minute, clk, zerolog.Nop())
	require.NoError(t, err)
	quotes, err := quote.NewManager(time.Minute, clk, zerolog.Nop())
	require.NoError(t, err)

	_, err = New(nil, &fakeSessionLog{}, &fakeSender{}, engine, quotes, clk, 10, zerolog.Nop())
	require.Error(t, err)
	_, err = New(&fakeExtractor{}, nil, &fakeSender{}, engine, quotes, clk, 10, zerolog.Nop())
	require.Error(t, err)
	_, err = New(&fakeExtractor{}, &fakeSessionLog{}, nil, engine, quotes, clk, 10, zerolog.Nop())
	require.Error(t, err)
	_, err = New(&fakeExtractor{}, &fakeSessionLog{}, &fakeSender{}, nil, quotes, clk, 10, zerolog.Nop())
	require.Error(t, err)
	_, err = New(&fakeExtractor{}, &fakeSessionLog{}, &fakeSender{}, engine, nil, clk, 10, zerolog.Nop())
	require.Error(t, err)
}

func TestHandleInbound_UnboundDebouncer(t *testing.T) {
	f := newFixture(t, &fakeCatalog{offers: quoteCatalog})
	f.pipeline.ingest = nil

	err := f.pipeline.HandleInbound(context.Background(), "5511999", "oi")
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ErrorInternal, ue.Code)
}
