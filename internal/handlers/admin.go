package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"spinsettle/internal/config"
	"spinsettle/internal/models"
	"spinsettle/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

var log = config.InitLogger()

// HealthCheck reports whether a dependency answers.
type HealthCheck func(ctx context.Context) error

type AdminHandler struct {
	ss       *services.SettlementService
	is       *services.IntegrityService
	rs       *services.ReferalService
	notifier services.Notifier
	checks   map[string]HealthCheck
}

func NewAdminHandler(ss *services.SettlementService, is *services.IntegrityService, rs *services.ReferalService, notifier services.Notifier, checks map[string]HealthCheck) *AdminHandler {
	return &AdminHandler{
		ss:       ss,
		is:       is,
		rs:       rs,
		notifier: notifier,
		checks:   checks,
	}
}

// NewRouter mounts the admin API. Every /admin route requires token when it
// is set.
func NewRouter(h *AdminHandler, token, manifestPath string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)
	if manifestPath != "" {
		r.Get("/tonconnect-manifest.json", ManifestHandler(manifestPath))
	}

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(requireToken(token))

		ar.Route("/intents/{id}", func(ir chi.Router) {
			ir.Get("/", h.IntentStatus)
			ir.Post("/signal", h.TonSignal)
			ir.Post("/poll", h.PollIntent)
			ir.Post("/reverse", h.ReverseIntent)
		})

		ar.Route("/users/{id}", func(ur chi.Router) {
			ur.Get("/balance", h.UserBalance)
			ur.Post("/hold/clear", h.ClearHold)
			ur.Get("/referrals", h.Referrals)
			ur.Post("/referrals/freeze", h.FreezeReferrals)
		})

		ar.Get("/holds", h.Holds)
		ar.Get("/integrity", h.Integrity)
		ar.Post("/events/nft-win", h.NFTWin)
	})

	return r
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(token)) != 1 {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrUnknownPackage):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrIntentClosed), errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrNotSettled), errors.Is(err, models.ErrIntegrityHold):
		status = http.StatusConflict
	case errors.Is(err, models.ErrTransientStorage):
		status = http.StatusServiceUnavailable
	default:
		log.WithFields(logrus.Fields{"path": r.URL.Path}).Error("Admin request failed: ", err)
	}
	writeError(w, r, status, err.Error())
}

func userIdParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	res := make(map[string]string, len(h.checks))
	status := http.StatusOK
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := check(ctx)
		cancel()
		if err != nil {
			res[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		res[name] = "ok"
	}
	render.Status(r, status)
	render.JSON(w, r, res)
}

type intentResponse struct {
	Intent     *models.PaymentIntent    `json:"intent"`
	Settlement *models.SettlementRecord `json:"settlement"`
}

func (h *AdminHandler) IntentStatus(w http.ResponseWriter, r *http.Request) {
	intent, rec, err := h.ss.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, intentResponse{Intent: intent, Settlement: rec})
}

type stateResponse struct {
	State models.SettlementState `json:"state"`
	Error string                 `json:"error,omitempty"`
}

type tonSignalRequest struct {
	TxHash string `json:"tx_hash"`
}

// TonSignal is called when a wallet reports the transaction as sent. The hash
// is a hint; the chain lookup decides.
func (h *AdminHandler) TonSignal(w http.ResponseWriter, r *http.Request) {
	var req tonSignalRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body")
		return
	}

	state, err := h.ss.OnSignal(r.Context(), chi.URLParam(r, "id"), models.PaymentProof{
		Rail:   models.RailTON,
		TxHash: req.TxHash,
	})
	h.writeState(w, r, state, err)
}

func (h *AdminHandler) PollIntent(w http.ResponseWriter, r *http.Request) {
	state, err := h.ss.Poll(r.Context(), chi.URLParam(r, "id"))
	h.writeState(w, r, state, err)
}

func (h *AdminHandler) writeState(w http.ResponseWriter, r *http.Request, state models.SettlementState, err error) {
	if err != nil && state == "" {
		writeServiceError(w, r, err)
		return
	}
	res := stateResponse{State: state}
	if err != nil {
		res.Error = err.Error()
	}
	render.JSON(w, r, res)
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) ReverseIntent(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Reason == "" {
		writeError(w, r, http.StatusBadRequest, "reason is required")
		return
	}

	entries, err := h.ss.Reverse(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, entries)
}

type balanceResponse struct {
	UserId   int64                 `json:"user_id"`
	Balances map[models.Unit]int64 `json:"balances"`
	Held     bool                  `json:"held"`
}

func (h *AdminHandler) UserBalance(w http.ResponseWriter, r *http.Request) {
	id, err := userIdParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}

	res := balanceResponse{UserId: id, Balances: make(map[models.Unit]int64)}
	for _, unit := range []models.Unit{models.UnitSpin, models.UnitStars, models.UnitNanoTON} {
		b, err := h.ss.BalanceOf(r.Context(), id, unit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		res.Balances[unit] = b
	}
	if res.Held, err = h.is.IsHeld(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *AdminHandler) ClearHold(w http.ResponseWriter, r *http.Request) {
	id, err := userIdParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := h.is.ClearHold(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *AdminHandler) Holds(w http.ResponseWriter, r *http.Request) {
	users, err := h.is.HeldUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, users)
}

func (h *AdminHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.is.Check(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !report.OK() {
		render.Status(r, http.StatusConflict)
	}
	render.JSON(w, r, report)
}

type nftWinRequest struct {
	UserId    int64  `json:"user_id"`
	PackageId string `json:"package_id"`
	NFT       string `json:"nft"`
}

// NFTWin lets the game report a prize win to the admin channels.
func (h *AdminHandler) NFTWin(w http.ResponseWriter, r *http.Request) {
	var req nftWinRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.UserId == 0 || req.NFT == "" {
		writeError(w, r, http.StatusBadRequest, "user_id and nft are required")
		return
	}

	if !h.notifier.Notify(models.NewNFTWinEvent(req.UserId, req.PackageId, req.NFT)) {
		writeError(w, r, http.StatusServiceUnavailable, "notification queue full")
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]bool{"queued": true})
}

// Referrals lists the upstream edges the user's purchases pay commission to.
func (h *AdminHandler) Referrals(w http.ResponseWriter, r *http.Request) {
	id, err := userIdParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	edges, err := h.rs.Chain(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, edges)
}

type freezeRequest struct {
	ReferredId int64 `json:"referred_id"`
	Disabled   *bool `json:"disabled"`
}

// FreezeReferrals disables (or re-enables) the commission edges of the
// referrer in the path. Without referred_id every edge of the referrer changes.
func (h *AdminHandler) FreezeReferrals(w http.ResponseWriter, r *http.Request) {
	id, err := userIdParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user id")
		return
	}
	var req freezeRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Disabled == nil {
		writeError(w, r, http.StatusBadRequest, "disabled is required")
		return
	}

	n, err := h.rs.DisableEdges(r.Context(), id, req.ReferredId, *req.Disabled)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int{"edges": n})
}
