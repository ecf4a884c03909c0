// Command sessiond serves the session token API over HTTP.
//
// Configuration comes from SK_* environment variables; see ConfigFromEnv.
// With SK_REDIS_ADDR unset all state is process-local, which is only useful
// for development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sessionkit/sessionkit"
	"github.com/sessionkit/sessionkit/middleware"
	"github.com/sessionkit/sessionkit/session"
	"github.com/sessionkit/sessionkit/store"
	"github.com/sessionkit/sessionkit/strategy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("sessiond exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := sessionkit.ConfigFromEnv()
	if err != nil {
		return err
	}

	builder := sessionkit.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithSender(consoleSender{logger: logger})

	if addr := os.Getenv("SK_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("SK_REDIS_PASSWORD"),
		})
		defer func() { _ = rdb.Close() }()
		builder.WithRedis(rdb)
	}

	svc, err := builder.Build()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	addr := os.Getenv("SK_LISTEN_ADDR")
	if addr == "" {
		addr = ":3001"
	}
	// SK_TRUST_PROXY enables X-Forwarded-For when a reverse proxy fronts
	// the listener; off by default so direct exposure stays spoof-proof.
	trustProxy, _ := strconv.ParseBool(os.Getenv("SK_TRUST_PROXY"))

	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(svc, cfg, trustProxy),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sessiond listening", "addr", addr, "app", cfg.AppName)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newRouter(svc *sessionkit.Service, cfg sessionkit.Config, trustProxy bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	h := &handlers{svc: svc, cfg: cfg, trustProxy: trustProxy}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.signUp)
		r.Post("/signin", h.signIn)
		r.Post("/session/refresh", h.refresh)

		r.Post("/passwordless/code", h.beginPasswordless)
		r.Post("/passwordless/consume", h.consumePasswordless)

		r.Get("/authorisationurl", h.authorisationURL)
		r.Post("/signinup", h.signInThirdParty)

		r.Post("/verify-email", h.verifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Gate(svc.Sessions(), middleware.Config{
				Mode:       session.ModeStrict,
				CookieName: cfg.TokenCookieName,
			}))
			r.Post("/signout", h.signOut)
			r.Post("/verify-email/send", h.sendVerifyEmail)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Gate(svc.Sessions(), middleware.Config{
			Mode:       session.ModeStrict,
			CookieName: cfg.TokenCookieName,
		}))
		r.Get("/sessioninfo", h.sessionInfo)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Everything else is an explicit 404 with a JSON body.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "route not found"})
	})

	return r
}

type handlers struct {
	svc        *sessionkit.Service
	cfg        sessionkit.Config
	trustProxy bool
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *handlers) signUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	rec, pair, err := h.svc.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{"userId": rec.UserID}
	if pair == nil {
		resp["status"] = "VERIFICATION_REQUIRED"
	} else {
		resp["status"] = "OK"
		resp["tokens"] = tokenResponse(pair)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) signIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.svc.SignIn(r.Context(), req.Email, req.Password, clientIP(r, h.trustProxy))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "tokens": tokenResponse(pair)})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "tokens": tokenResponse(pair)})
}

func (h *handlers) beginPasswordless(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Phone string `json:"phoneNumber"`
	}
	if !decode(w, r, &req) {
		return
	}

	contact := strategy.Contact{Kind: strategy.ContactEmail, Value: req.Email}
	if req.Email == "" {
		contact = strategy.Contact{Kind: strategy.ContactPhone, Value: req.Phone}
	}

	pending, err := h.svc.BeginPasswordless(r.Context(), contact)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"deviceId":  pending.DeviceID,
		"flowType":  pending.Flow,
		"expiresAt": pending.ExpiresAt.Unix(),
	})
}

func (h *handlers) consumePasswordless(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"deviceId"`
		Code     string `json:"userInputCode"`
		LinkCode string `json:"linkCode"`
	}
	if !decode(w, r, &req) {
		return
	}

	var pair *session.TokenPair
	var err error
	if req.Code != "" {
		pair, err = h.svc.ConsumePasswordlessCode(r.Context(), req.DeviceID, req.Code)
	} else {
		pair, err = h.svc.ConsumePasswordlessLink(r.Context(), req.DeviceID, req.LinkCode)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "tokens": tokenResponse(pair)})
}

func (h *handlers) authorisationURL(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("thirdPartyId")
	redirect := r.URL.Query().Get("redirectURI")
	state := r.URL.Query().Get("state")

	authURL, err := h.svc.ThirdPartyAuthURL(provider, redirect, state)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "url": authURL})
}

func (h *handlers) signInThirdParty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider    string `json:"thirdPartyId"`
		RedirectURI string `json:"redirectURI"`
		Code        string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}

	pair, err := h.svc.SignInThirdParty(r.Context(), req.Provider, req.RedirectURI, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "tokens": tokenResponse(pair)})
}

func (h *handlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string `json:"device"`
		Secret   string `json:"secret"`
	}
	if !decode(w, r, &req) {
		return
	}

	userID, err := h.svc.VerifyEmail(r.Context(), req.DeviceID, req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "userId": userID})
}

func (h *handlers) sendVerifyEmail(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())

	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}

	if err := h.svc.SendEmailVerification(r.Context(), info.UserID, req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *handlers) signOut(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	if err := h.svc.RevokeSession(r.Context(), info.Handle); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *handlers) sessionInfo(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionHandle":      info.Handle,
		"userId":             info.UserID,
		"accessTokenPayload": info.Payload,
	})
}

func tokenResponse(pair *session.TokenPair) map[string]any {
	return map[string]any{
		"sessionHandle":    pair.Handle,
		"accessToken":      pair.AccessToken,
		"refreshToken":     pair.RefreshToken,
		"accessExpiresAt":  pair.AccessExpiresAt.Unix(),
		"refreshExpiresAt": pair.RefreshExpiresAt.Unix(),
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps error classes to statuses without leaking detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionkit.ErrDuplicateIdentifier):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "identifier already in use"})
	case errors.Is(err, sessionkit.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many attempts"})
	case errors.Is(err, sessionkit.ErrEmailNotVerified):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "email not verified"})
	case errors.Is(err, sessionkit.ErrTokenTheftDetected):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "session revoked"})
	case errors.Is(err, sessionkit.ErrInvalidProof),
		errors.Is(err, sessionkit.ErrRefreshInvalid),
		errors.Is(err, sessionkit.ErrTokenInvalid):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, session.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// clientIP keys sign-in throttling. X-Forwarded-For is client-controlled
// unless a trusted proxy sits in front, and even then only its last entry
// is trustworthy: that is the hop the proxy itself appended.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			return strings.TrimSpace(hops[len(hops)-1])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// consoleSender logs deliveries instead of sending them. Stand-in until a
// real mail/SMS transport is wired.
type consoleSender struct {
	logger *slog.Logger
}

func (s consoleSender) Send(_ context.Context, d strategy.Delivery) error {
	s.logger.Info("delivery",
		"kind", string(d.Contact.Kind),
		"to", d.Contact.Value,
		"code", d.Code,
		"link", d.LinkURL,
	)
	return nil
}
