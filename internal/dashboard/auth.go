package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"welcomer/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	sessionCookie = "welcomer_session"
	stateCookie   = "welcomer_oauth_state"
	stateTTL      = 10 * time.Minute
)

type contextKey int

const sessionKey contextKey = 0

type sessionInfo struct {
	ID     string
	UserID string
	Token  *oauth2.Token
}

func sessionFrom(ctx context.Context) sessionInfo {
	info, _ := ctx.Value(sessionKey).(sessionInfo)
	return info
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	s.setCookie(w, stateCookie, state, s.now().Add(stateTTL))
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		writeError(w, http.StatusUnauthorized, "authorization denied: "+reason)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != query.Get("state") {
		writeError(w, http.StatusBadRequest, "invalid oauth state")
		return
	}
	s.clearCookie(w, stateCookie)

	code := query.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("oauth exchange failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}

	user, err := s.api.CurrentUser(ctx, token)
	if err != nil {
		s.logger.Warn("fetch discord user failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load discord profile")
		return
	}
	if err := s.store.UpsertOAuthUser(ctx, storage.OAuthUser{
		DiscordID:     user.ID,
		Username:      user.Username,
		Avatar:        user.Avatar,
		Discriminator: user.Discriminator,
		Email:         user.Email,
	}); err != nil {
		s.logger.Error("save oauth user failed", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save user")
		return
	}

	session, err := s.newSession(user.ID, token)
	if err != nil {
		s.logger.Error("seal session tokens failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		s.logger.Error("create session failed", zap.String("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	if purged, err := s.store.PurgeExpiredSessions(ctx); err != nil {
		s.logger.Warn("purge expired sessions failed", zap.Error(err))
	} else if purged > 0 {
		s.logger.Debug("purged expired sessions", zap.Int64("count", purged))
	}

	s.setCookie(w, sessionCookie, session.ID, session.ExpiresAt)
	s.logger.Info("dashboard login", zap.String("user_id", user.ID))
	http.Redirect(w, r, s.opts.LoginRedirect, http.StatusFound)
}

// newSession seals only the access token. The session ends no later than
// the token does, so the refresh token is never kept.
func (s *Server) newSession(userID string, token *oauth2.Token) (storage.Session, error) {
	access, err := s.sealer.Seal(token.AccessToken)
	if err != nil {
		return storage.Session{}, err
	}
	expires := s.now().Add(s.opts.SessionTTL)
	if !token.Expiry.IsZero() && token.Expiry.Before(expires) {
		expires = token.Expiry
	}
	return storage.Session{
		ID:          uuid.NewString(),
		DiscordID:   userID,
		AccessToken: access,
		ExpiresAt:   expires,
	}, nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		if err := s.store.DeleteSession(r.Context(), cookie.Value); err != nil {
			s.logger.Warn("delete session failed", zap.Error(err))
		}
	}
	s.clearCookie(w, sessionCookie)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	user, err := s.store.GetOAuthUser(r.Context(), info.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.endSession(w, r)
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		session, err := s.store.GetSession(r.Context(), cookie.Value)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.clearCookie(w, sessionCookie)
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			}
			s.logger.Error("load session failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not load session")
			return
		}
		access, err := s.sealer.Open(session.AccessToken)
		if err != nil {
			s.logger.Warn("session token unreadable", zap.Error(err))
			s.endSession(w, r)
			return
		}

		info := sessionInfo{
			ID:     session.ID,
			UserID: session.DiscordID,
			Token:  &oauth2.Token{AccessToken: access, TokenType: "Bearer"},
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, info)))
	})
}

// endSession drops the server-side session and asks the client to log in again.
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if info := sessionFrom(r.Context()); info.ID != "" {
		if err := s.store.DeleteSession(r.Context(), info.ID); err != nil {
			s.logger.Warn("delete session failed", zap.Error(err))
		}
	}
	s.clearCookie(w, sessionCookie)
	writeError(w, http.StatusUnauthorized, "session expired")
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
