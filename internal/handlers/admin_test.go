package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/models"
	"spinsettle/internal/repositories"
	"spinsettle/internal/services"

	"github.com/stretchr/testify/require"
)

const token = "secret"

type starsIssuer struct{}

func (starsIssuer) Destination() string { return "" }

func (starsIssuer) Issue(_ context.Context, intent *models.PaymentIntent, _ models.Package) (*models.PaymentRequest, error) {
	return &models.PaymentRequest{IntentId: intent.Id, Rail: intent.Rail, Amount: intent.ExpectedAmount}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AdminEvent
}

func (r *recordingNotifier) Notify(ev models.AdminEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

type fixture struct {
	store    *repositories.MemoryStore
	ss       *services.SettlementService
	rs       *services.ReferalService
	notifier *recordingNotifier
	srv      *httptest.Server
}

func newFixture(t *testing.T, checks map[string]HealthCheck, manifest string) *fixture {
	t.Helper()
	store := repositories.NewMemoryStore()
	ids, err := services.NewSnowflakeIds(1)
	require.NoError(t, err)
	notifier := &recordingNotifier{}

	ss := services.NewSettlementService(store, store, store,
		services.NewVerifier(store, nil, 1),
		services.NewCommissionCalculator(store, ids, 2),
		notifier, ids, models.DefaultCatalog(), services.DefaultSettlementOptions())
	ss.RegisterIssuer(models.RailStars, starsIssuer{})
	is := services.NewIntegrityService(store, store, notifier)
	rs := services.NewReferalService(store, store, config.ReferralConfig{RatesBps: []int64{1500, 2500}})

	srv := httptest.NewServer(NewRouter(NewAdminHandler(ss, is, rs, notifier, checks), token, manifest))
	t.Cleanup(srv.Close)

	require.NoError(t, store.CreateUser(context.Background(), &models.User{Id: 1, CreatedAt: time.Now()}))
	return &fixture{store: store, ss: ss, rs: rs, notifier: notifier, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&res)
	return resp, res
}

func (f *fixture) settle(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	req, err := f.ss.StartCheckout(ctx, 1, "bronze", models.RailStars)
	require.NoError(t, err)
	state, err := f.ss.OnSignal(ctx, req.IntentId, models.PaymentProof{
		Rail: models.RailStars, ChargeId: "c-" + req.IntentId, Amount: 450, Currency: "XTR",
	})
	require.NoError(t, err)
	require.Equal(t, models.StateSettled, state)
	return req.IntentId
}

func TestAdminRequiresToken(t *testing.T) {
	f := newFixture(t, nil, "")
	resp, err := http.Get(f.srv.URL + "/admin/holds")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("down") },
	}, "")

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "ok", body["postgres"])
	require.Equal(t, "down", body["redis"])
}

func TestIntentStatusAndReverse(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, _ := f.do(t, http.MethodGet, "/admin/intents/missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	id := f.settle(t)
	resp, body := f.do(t, http.MethodGet, "/admin/intents/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "settled", body["settlement"].(map[string]any)["state"])

	resp, body = f.do(t, http.MethodGet, "/admin/users/1/balance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(30), body["balances"].(map[string]any)["SPIN"])

	resp, _ = f.do(t, http.MethodPost, "/admin/intents/"+id+"/reverse", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/admin/intents/"+id+"/reverse", `{"reason":"refund"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	spins, err := f.ss.BalanceOf(context.Background(), 1, models.UnitSpin)
	require.NoError(t, err)
	require.Zero(t, spins)
}

func TestReverseUnsettledConflicts(t *testing.T) {
	f := newFixture(t, nil, "")
	req, err := f.ss.StartCheckout(context.Background(), 1, "bronze", models.RailStars)
	require.NoError(t, err)

	resp, _ := f.do(t, http.MethodPost, "/admin/intents/"+req.IntentId+"/reverse", `{"reason":"refund"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/admin/intents/"+req.IntentId+"/poll", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "awaiting_verification", body["state"])
}

func TestIntegrityAndHolds(t *testing.T) {
	f := newFixture(t, nil, "")
	f.settle(t)

	resp, _ := f.do(t, http.MethodGet, "/admin/integrity", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.store.SetHold(context.Background(), 1, true, "manual"))
	resp, body := f.do(t, http.MethodGet, "/admin/users/1/balance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["held"])

	resp, _ = f.do(t, http.MethodPost, "/admin/users/1/hold/clear", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	held, err := f.store.HeldUsers(context.Background())
	require.NoError(t, err)
	require.Empty(t, held)
}

func TestNFTWinQueuesEvent(t *testing.T) {
	f := newFixture(t, nil, "")

	resp, _ := f.do(t, http.MethodPost, "/admin/events/nft-win", `{"user_id":1}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/admin/events/nft-win", `{"user_id":1,"package_id":"gold","nft":"Plush Pepe"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, f.notifier.events, 1)
	require.Equal(t, models.EventNFTWin, f.notifier.events[0].Kind)
}

func TestManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tonconnect-manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"url":"https://example.org"}`), 0o600))
	f := newFixture(t, nil, path)

	resp, body := f.do(t, http.MethodGet, "/tonconnect-manifest.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://example.org", body["url"])
}

func TestReferralChainAndFreeze(t *testing.T) {
	f := newFixture(t, nil, "")
	ctx := context.Background()
	for _, id := range []int64{2, 3} {
		require.NoError(t, f.store.CreateUser(ctx, &models.User{Id: id, CreatedAt: time.Now()}))
	}
	_, err := f.rs.CreateEdge(ctx, 1, 2)
	require.NoError(t, err)
	_, err = f.rs.CreateEdge(ctx, 2, 3)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/admin/users/3/referrals", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Token", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var edges []models.ReferralEdge
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&edges))
	resp.Body.Close()
	require.Len(t, edges, 2)

	resp, _ = f.do(t, http.MethodPost, "/admin/users/1/referrals/freeze", `{}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/admin/users/1/referrals/freeze", `{"disabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(2), body["edges"])

	chain, err := f.rs.Chain(ctx, 3)
	require.NoError(t, err)
	for _, e := range chain {
		require.Equal(t, e.ReferrerId == 1, e.Disabled)
	}
}
