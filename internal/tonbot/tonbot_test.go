package tonbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"spinsettle/internal/config"
	appModels "spinsettle/internal/models"
	"spinsettle/internal/repositories"
	"spinsettle/internal/services"
	"spinsettle/internal/util"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"
)

type sent struct {
	chatId any
	text   string
}

type fakeBot struct {
	mu       sync.Mutex
	messages []sent
	answers  []bot.AnswerPreCheckoutQueryParams
	invoices []bot.CreateInvoiceLinkParams
	sendErr  error
}

func (f *fakeBot) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.messages = append(f.messages, sent{chatId: p.ChatID, text: p.Text})
	return &models.Message{ID: len(f.messages)}, nil
}

func (f *fakeBot) AnswerPreCheckoutQuery(_ context.Context, p *bot.AnswerPreCheckoutQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, *p)
	return true, nil
}

func (f *fakeBot) AnswerCallbackQuery(context.Context, *bot.AnswerCallbackQueryParams) (bool, error) {
	return true, nil
}

func (f *fakeBot) CreateInvoiceLink(_ context.Context, p *bot.CreateInvoiceLinkParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, *p)
	return "https://t.me/$invoice-" + p.Payload, nil
}

func (f *fakeBot) DeleteMessage(context.Context, *bot.DeleteMessageParams) (bool, error) {
	return true, nil
}

func (f *fakeBot) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[len(f.messages)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []appModels.AdminEvent
}

func (r *recordingNotifier) Notify(ev appModels.AdminEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

type fixture struct {
	api      *fakeBot
	notifier *recordingNotifier
	users    *services.UserService
	ss       *services.SettlementService
	bot      *TgBot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	ids, err := services.NewSnowflakeIds(1)
	require.NoError(t, err)

	refCfg := config.ReferralConfig{RatesBps: []int64{1500, 2500}}
	referrals := services.NewReferalService(store, store, refCfg)
	users := services.NewUserService(store, referrals)
	notifier := &recordingNotifier{}

	ss := services.NewSettlementService(store, store, store,
		services.NewVerifier(store, nil, 1),
		services.NewCommissionCalculator(store, ids, refCfg.MaxDepth()),
		notifier, ids, appModels.DefaultCatalog(), services.DefaultSettlementOptions())

	api := &fakeBot{}
	ss.RegisterIssuer(appModels.RailStars, NewStarsIssuer(api))

	return &fixture{
		api:      api,
		notifier: notifier,
		users:    users,
		ss:       ss,
		bot:      NewTgBot("token", "spin_bot", refCfg.RatesBps, users, ss, notifier),
	}
}

func update(t *testing.T, raw string) *models.Update {
	t.Helper()
	var u models.Update
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return &u
}

func textUpdate(t *testing.T, chatId int64, text string) *models.Update {
	return update(t, fmt.Sprintf(`{"update_id":1,"message":{"message_id":1,"date":0,
		"from":{"id":%d,"is_bot":false,"first_name":"u"},
		"chat":{"id":%d,"type":"private","username":"u%d"},"text":%q}}`, chatId, chatId, chatId, text))
}

func preCheckoutUpdate(t *testing.T, userId int64, payload, currency string, amount int64) *models.Update {
	return update(t, fmt.Sprintf(`{"update_id":2,"pre_checkout_query":{"id":"q1",
		"from":{"id":%d,"is_bot":false,"first_name":"u"},
		"currency":%q,"total_amount":%d,"invoice_payload":%q}}`, userId, currency, amount, payload))
}

func paymentUpdate(t *testing.T, userId int64, payload, charge string, amount int64) *models.Update {
	return update(t, fmt.Sprintf(`{"update_id":3,"message":{"message_id":2,"date":0,
		"from":{"id":%d,"is_bot":false,"first_name":"u"},
		"chat":{"id":%d,"type":"private"},
		"successful_payment":{"currency":"XTR","total_amount":%d,"invoice_payload":%q,
			"telegram_payment_charge_id":%q,"provider_payment_charge_id":""}}}`, userId, userId, amount, payload, charge))
}

func TestStartRegistersUserWithReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, f.api, textUpdate(t, 1, "/start"))
	f.bot.route(ctx, f.api, textUpdate(t, 2, "/start "+util.GenerateReferralTelegramCode(1)))

	u, err := f.users.GetById(ctx, 2)
	require.NoError(t, err)
	require.True(t, u.ReferrerId.Valid)
	require.Equal(t, int64(1), u.ReferrerId.Int64)

	f.bot.route(ctx, f.api, textUpdate(t, 3, "/start "+util.GenerateReferralTelegramCode(3)))
	u, err = f.users.GetById(ctx, 3)
	require.NoError(t, err)
	require.False(t, u.ReferrerId.Valid)
}

func TestStarsPaymentFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bot.route(ctx, f.api, textUpdate(t, 1, "/start"))

	req, err := f.ss.StartCheckout(ctx, 1, "bronze", appModels.RailStars)
	require.NoError(t, err)
	require.Equal(t, "https://t.me/$invoice-"+req.IntentId, req.InvoiceLink)
	require.Len(t, f.api.invoices, 1)
	require.Equal(t, "XTR", f.api.invoices[0].Currency)
	require.Equal(t, 450, f.api.invoices[0].Prices[0].Amount)

	f.bot.route(ctx, f.api, preCheckoutUpdate(t, 1, req.IntentId, "XTR", 450))
	require.Len(t, f.api.answers, 1)
	require.True(t, f.api.answers[0].OK)

	f.bot.route(ctx, f.api, paymentUpdate(t, 1, req.IntentId, "charge-1", 450))
	require.Contains(t, f.api.last().text, "✅")

	spins, err := f.ss.BalanceOf(ctx, 1, appModels.UnitSpin)
	require.NoError(t, err)
	require.Equal(t, int64(30), spins)

	// a redelivered update does not credit twice
	f.bot.route(ctx, f.api, paymentUpdate(t, 1, req.IntentId, "charge-1", 450))
	require.Contains(t, f.api.last().text, "✅")
	spins, err = f.ss.BalanceOf(ctx, 1, appModels.UnitSpin)
	require.NoError(t, err)
	require.Equal(t, int64(30), spins)

	f.bot.route(ctx, f.api, textUpdate(t, 1, "/history"))
	require.Contains(t, f.api.last().text, "Покупка")
	require.Contains(t, f.api.last().text, "30 spins")

	// settled intents refuse a second pre-checkout
	f.bot.route(ctx, f.api, preCheckoutUpdate(t, 1, req.IntentId, "XTR", 450))
	require.False(t, f.api.answers[1].OK)
}

func TestPreCheckoutRefusals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.bot.route(ctx, f.api, textUpdate(t, 1, "/start"))

	req, err := f.ss.StartCheckout(ctx, 1, "bronze", appModels.RailStars)
	require.NoError(t, err)

	p := f.bot.payments
	require.NotEmpty(t, p.checkPreCheckout(ctx, 1, req.IntentId, "XTR", 449))
	require.NotEmpty(t, p.checkPreCheckout(ctx, 2, req.IntentId, "XTR", 450))
	require.NotEmpty(t, p.checkPreCheckout(ctx, 1, req.IntentId, "USD", 450))
	require.NotEmpty(t, p.checkPreCheckout(ctx, 1, "missing", "XTR", 450))
	require.Empty(t, p.checkPreCheckout(ctx, 1, req.IntentId, "XTR", 450))

	p.now = func() time.Time { return req.ExpiresAt }
	require.NotEmpty(t, p.checkPreCheckout(ctx, 1, req.IntentId, "XTR", 450))
}

func TestPaymentForUnknownIntentAlertsAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bot.route(ctx, f.api, paymentUpdate(t, 1, "missing", "charge-9", 450))

	require.Len(t, f.notifier.events, 1)
	require.Equal(t, appModels.EventSettlementFailed, f.notifier.events[0].Kind)
	require.Contains(t, f.notifier.events[0].Detail, "charge-9")
}

func TestAdminSink(t *testing.T) {
	api := &fakeBot{}
	sink := NewAdminSink(api, []int64{10, 20})

	ev := appModels.AdminEvent{Kind: appModels.EventPurchase, UserId: 1, PackageId: "gold", Amount: 5000, Unit: appModels.UnitStars}
	require.NoError(t, sink.Deliver(context.Background(), ev))
	require.Len(t, api.messages, 2)
	require.Equal(t, int64(20), api.messages[1].chatId)
	require.Contains(t, api.messages[0].text, "5,000 ⭐")

	api.sendErr = errors.New("blocked")
	require.Error(t, sink.Deliver(context.Background(), ev))
}

func TestFormatEventEscapesDetail(t *testing.T) {
	text := FormatEvent(appModels.AdminEvent{Kind: appModels.EventIntegrityAlert, Detail: "sum <SPIN> off"})
	require.Contains(t, text, "&lt;SPIN&gt;")
}
