package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"hostpost/internal/constants"
	"hostpost/internal/metrics"
	"hostpost/internal/models"
	"hostpost/internal/oauthstate"
	"hostpost/internal/privacy"
	"hostpost/pkg/platforms/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the operational HTTP surface: health, metrics and the
// OAuth authorization round-trip that creates social connections.
type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	stateStore *oauthstate.Store
	server     *http.Server
}

func NewServer(cfg *models.Config, stateStore *oauthstate.Store, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		stateStore: stateStore,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	oauth := s.router.PathPrefix("/oauth/{platform}").Subrouter()
	oauth.HandleFunc("/start", s.handleOAuthStart()).Methods(http.MethodGet)
	oauth.HandleFunc("/callback", s.handleOAuthCallback()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics.GetRegistry().GetSnapshot()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics snapshot")
		}
	}
}

// handleOAuthStart persists single-use state for the round-trip and
// redirects the browser to the platform's authorization page.
func (s *Server) handleOAuthStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform := types.Normalize(mux.Vars(r)["platform"])
		tenantID := r.URL.Query().Get("tenant_id")
		userID := r.URL.Query().Get("user_id")
		if tenantID == "" || userID == "" {
			http.Error(w, "tenant_id and user_id are required", http.StatusBadRequest)
			return
		}

		clientID, authorizeURL := s.platformAuthorize(platform)
		if clientID == "" {
			http.Error(w, "unsupported or unconfigured platform", http.StatusBadRequest)
			return
		}

		nonce, err := s.stateStore.Persist(w, r, oauthstate.Entry{
			TenantID:     tenantID,
			UserID:       userID,
			Platform:     platform,
			RedirectPath: r.URL.Query().Get("redirect_path"),
		})
		if err != nil {
			s.logger.WithError(err).Error("Failed to persist OAuth state")
			http.Error(w, "failed to start authorization", http.StatusInternalServerError)
			return
		}

		redirect := fmt.Sprintf("%s?%s", authorizeURL, url.Values{
			"response_type": {"code"},
			"client_id":     {clientID},
			"redirect_uri":  {s.redirectURI(platform)},
			"state":         {nonce},
		}.Encode())

		s.logger.WithFields(logrus.Fields{
			"platform": platform,
			"tenant":   privacy.MaskTenantID(tenantID),
		}).Info("OAuth authorization started")

		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

// handleOAuthCallback validates the returned state. The state is single
// use: a replayed or expired callback gets the same rejection as a forged
// one. Code-for-token exchange and connection creation belong to the
// dashboard side, which picks up from the acknowledged state.
func (s *Server) handleOAuthCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform := types.Normalize(mux.Vars(r)["platform"])
		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")
		if state == "" || code == "" {
			http.Error(w, "state and code are required", http.StatusBadRequest)
			return
		}

		entry, err := s.stateStore.Consume(w, r, state)
		if err != nil {
			s.logger.WithError(err).Error("Failed to consume OAuth state")
			http.Error(w, "failed to complete authorization", http.StatusInternalServerError)
			return
		}
		if entry == nil || types.Normalize(entry.Platform) != platform {
			s.logger.WithFields(logrus.Fields{
				"event":    "security",
				"platform": platform,
			}).Warn("OAuth callback with unknown or expired state")
			http.Error(w, "invalid or expired authorization state", http.StatusBadRequest)
			return
		}

		s.logger.WithFields(logrus.Fields{
			"platform": platform,
			"tenant":   privacy.MaskTenantID(entry.TenantID),
			"code":     privacy.MaskToken(code),
		}).Info("OAuth authorization completed")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"platform":      platform,
			"tenant_id":     entry.TenantID,
			"user_id":       entry.UserID,
			"redirect_path": entry.RedirectPath,
		})
	}
}

// platformAuthorize returns the OAuth client id and authorization URL for
// a platform, empty when the platform is not configured.
func (s *Server) platformAuthorize(platform string) (string, string) {
	switch platform {
	case "facebook", "instagram":
		return s.cfg.Platforms.Facebook.ClientID, "https://www.facebook.com/v19.0/dialog/oauth"
	case "twitter":
		return s.cfg.Platforms.Twitter.ClientID, "https://twitter.com/i/oauth2/authorize"
	case "linkedin":
		return s.cfg.Platforms.LinkedIn.ClientID, "https://www.linkedin.com/oauth/v2/authorization"
	default:
		return "", ""
	}
}

func (s *Server) redirectURI(platform string) string {
	return fmt.Sprintf("%s/oauth/%s/callback", s.cfg.Server.PublicBaseURL, platform)
}
