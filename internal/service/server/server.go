package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dm_chat/internal/config"
	"dm_chat/internal/errs"
	"dm_chat/internal/model"
	"dm_chat/internal/service/gateway"
	"dm_chat/internal/service/identity"
	"dm_chat/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type (
	HttpServer struct {
		gateway  *gateway.Gateway
		verifier *identity.TokenVerifier
		wsConfig config.WebSocketConfig
		gatherer prometheus.Gatherer
	}

	sendRequest struct {
		Body string `json:"body"`
	}

	identityResponse struct {
		ID string `json:"id"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func NewHttpServer(gw *gateway.Gateway, verifier *identity.TokenVerifier, wsConfig config.WebSocketConfig, gatherer prometheus.Gatherer) *HttpServer {
	return &HttpServer{
		gateway:  gw,
		verifier: verifier,
		wsConfig: wsConfig,
		gatherer: gatherer,
	}
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/identity", s.ResolveIdentity()).Methods(http.MethodPost)
	api.HandleFunc("/me", s.GetCurrentUser()).Methods(http.MethodGet)
	api.HandleFunc("/users", s.ListOtherUsers()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{userID}/messages", s.SendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{userID}/messages", s.ListConversation()).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{userID}/subscribe", s.SubscribeConversation()).Methods(http.MethodGet)

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *HttpServer) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func (s *HttpServer) ResolveIdentity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identityFrom(r.Context())

		profile := caller.Profile
		if r.ContentLength != 0 {
			var body model.Profile
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, errs.ErrValidation)
				return
			}
			profile = mergeProfile(profile, body)
		}

		id, err := s.gateway.ResolveIdentity(r.Context(), caller.Key, profile)
		if err != nil {
			log.Error("resolve identity failed", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, identityResponse{ID: id})
	}
}

func (s *HttpServer) GetCurrentUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identityFrom(r.Context())

		user, err := s.gateway.CurrentUser(r.Context(), caller.Key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *HttpServer) ListOtherUsers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identityFrom(r.Context())

		users, err := s.gateway.ListOtherUsers(r.Context(), caller.Key)
		if err != nil {
			log.Error("list users failed", zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func (s *HttpServer) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identityFrom(r.Context())
		receiverID := mux.Vars(r)["userID"]

		var req sendRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.wsConfig.MaxMessageSize)).Decode(&req); err != nil {
			writeError(w, errs.ErrValidation)
			return
		}

		msg, err := s.gateway.SendMessage(r.Context(), caller.Key, receiverID, req.Body)
		if err != nil {
			log.Debug("send message rejected", zap.String("receiver", receiverID), zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *HttpServer) ListConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := identityFrom(r.Context())
		otherID := mux.Vars(r)["userID"]
		q := r.URL.Query()

		limit := 0
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, errs.ErrValidation)
				return
			}
			limit = n
		}

		page, err := s.gateway.ListConversation(r.Context(), caller.Key, otherID, q.Get("cursor"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func mergeProfile(fromToken, fromBody model.Profile) model.Profile {
	if fromBody.DisplayName != "" {
		fromToken.DisplayName = fromBody.DisplayName
	}
	if fromBody.Email != "" {
		fromToken.Email = fromBody.Email
	}
	if fromBody.AvatarRef != "" {
		fromToken.AvatarRef = fromBody.AvatarRef
	}
	return fromToken
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrOverloaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}
