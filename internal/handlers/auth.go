package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/database/models"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/metrics"
	"github.com/agjmills/swapshelf/internal/middleware"
	"github.com/agjmills/swapshelf/internal/service"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
)

// mailTimeout bounds a single reset email, which is sent after the response.
const mailTimeout = 30 * time.Second

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, username, link string) error
}

type AuthHandler struct {
	*Renderer
	cfg            *config.Config
	users          *service.UserService
	sessions       *service.SessionRegistry
	sessionManager *scs.SessionManager
	mailer         Mailer

	mail sync.WaitGroup
}

func NewAuthHandler(rd *Renderer, cfg *config.Config, users *service.UserService, sessions *service.SessionRegistry, sessionManager *scs.SessionManager, mailer Mailer) *AuthHandler {
	return &AuthHandler{
		Renderer:       rd,
		cfg:            cfg,
		users:          users,
		sessions:       sessions,
		sessionManager: sessionManager,
		mailer:         mailer,
	}
}

// Wait blocks until every reset email queued so far has been handed off.
func (h *AuthHandler) Wait() {
	h.mail.Wait()
}

func (h *AuthHandler) ShowRegister(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register.html", "Register", nil)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Register(r.Context(), service.RegisterInput{
		Username: r.FormValue("username"),
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		Name:     r.FormValue("name"),
		Country:  r.FormValue("country"),
	})
	metrics.RecordRegistration(err == nil)
	if err != nil {
		h.fail(w, r, err, "/users/register")
		return
	}

	if err := h.startSession(r, user, false); err != nil {
		middleware.ServerError(w, r, err)
		return
	}
	logger.Info("user registered", "username", user.Username)
	h.flash.Success(r.Context(), "You are now registered")
	redirect(w, r, "/")
}

func (h *AuthHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "login.html", "Log in", map[string]any{
		"Next": auth.SafeRedirect(r.URL.Query().Get("next")),
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	next := auth.SafeRedirect(r.FormValue("next"))

	user, err := h.users.Verify(r.Context(), r.FormValue("username"), r.FormValue("password"))
	metrics.RecordLogin(err == nil)
	if err != nil {
		if !errors.Is(err, service.ErrAuthFailure) {
			middleware.ServerError(w, r, err)
			return
		}
		h.flash.Error(r.Context(), service.Message(err, "Invalid username/password combination"))
		target := auth.LoginPath
		if next != "/" {
			target += "?next=" + url.QueryEscape(next)
		}
		redirect(w, r, target)
		return
	}

	if err := h.startSession(r, user, r.FormValue("remember") != ""); err != nil {
		middleware.ServerError(w, r, err)
		return
	}
	h.flash.Info(r.Context(), "You are now logged in, "+user.Username)
	redirect(w, r, next)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, err := auth.Logout(r.Context(), h.sessionManager)
	if err != nil {
		middleware.ServerError(w, r, err)
		return
	}
	if err := h.sessions.Forget(r.Context(), token); err != nil {
		logger.Warn("failed to drop session from index", "error", err)
	}
	h.flash.Info(r.Context(), "You are logged out")
	redirect(w, r, "/")
}

func (h *AuthHandler) ShowChangePassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "change_password.html", "Change password", nil)
}

// ChangePassword sets a new password and logs the user out everywhere except
// in the session that made the change.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	if err := h.users.ChangePassword(r.Context(), user.ID, r.FormValue("password")); err != nil {
		h.fail(w, r, err, "/users/change-password")
		return
	}

	if _, err := h.sessions.InvalidateOthers(r.Context(), user.ID, h.sessionManager.Token(r.Context())); err != nil {
		logger.Error("failed to invalidate other sessions", "user_id", user.ID, "error", err)
	}
	h.flash.Success(r.Context(), "Password changed with success")
	redirect(w, r, "/")
}

func (h *AuthHandler) ShowResetPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "reset_password.html", "Reset password", nil)
}

// RequestPasswordReset issues a reset token and mails the link once the
// response has been written.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GenerateResetToken(r.Context(), r.FormValue("email"))
	metrics.RecordPasswordReset("request", err == nil)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			h.flash.Warning(r.Context(), service.Message(err, "Email not found"))
			redirectBack(w, r, "/users/reset-password")
			return
		}
		h.fail(w, r, err, "/users/reset-password")
		return
	}

	h.flash.Info(r.Context(), "Sending an email with instructions to recover your account")
	redirect(w, r, "/")

	link := h.cfg.BaseURL + "/users/reset-password/" + url.PathEscape(*user.ResetPasswordToken)
	to, username := user.Email, user.Username
	h.mail.Add(1)
	go func() {
		defer h.mail.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()
		if err := h.mailer.SendPasswordReset(ctx, to, username, link); err != nil {
			logger.Error("failed to send password reset email", "username", username, "error", err)
		}
	}()
}

func (h *AuthHandler) ShowResetPasswordToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := h.users.FindByResetToken(r.Context(), token); err != nil {
		h.fail(w, r, err, "/users/reset-password")
		return
	}
	h.render(w, r, "reset_password_token.html", "Choose a new password", map[string]any{
		"Token": token,
	})
}

// ResetPassword redeems a reset token. Every session of the account is
// logged out afterwards.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	user, err := h.users.ResetPassword(r.Context(), token, r.FormValue("password"))
	metrics.RecordPasswordReset("redeem", err == nil)
	if err != nil {
		fallback := "/users/reset-password"
		if errors.Is(err, service.ErrValidation) {
			fallback += "/" + url.PathEscape(token)
		}
		if msg := service.Message(err, ""); msg != "" {
			h.flash.Error(r.Context(), msg)
			redirect(w, r, fallback)
			return
		}
		middleware.ServerError(w, r, err)
		return
	}

	if _, err := h.sessions.InvalidateAll(r.Context(), user.ID); err != nil {
		logger.Error("failed to invalidate sessions after reset", "user_id", user.ID, "error", err)
	}
	h.flash.Success(r.Context(), "Password changed, try to login")
	redirect(w, r, auth.LoginPath)
}

func (h *AuthHandler) ShowUpdateProfile(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "update_profile.html", "Profile", nil)
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r)
	_, err := h.users.UpdateProfile(r.Context(), user.ID, service.ProfileInput{
		Email:   r.FormValue("email"),
		Name:    r.FormValue("name"),
		Country: r.FormValue("country"),
	})
	if err != nil {
		h.fail(w, r, err, "/users/update-profile")
		return
	}
	h.flash.Success(r.Context(), "Profile updated")
	redirectBack(w, r, "/users/update-profile")
}

// startSession logs user in under a fresh session token and records the
// token in the session index.
func (h *AuthHandler) startSession(r *http.Request, user *models.User, remember bool) error {
	token, err := auth.Login(r.Context(), h.sessionManager, user.ID, remember)
	if err != nil {
		return err
	}
	meta := models.UserSessionMeta{
		RemoteAddr: r.RemoteAddr,
		UserAgent:  strings.TrimSpace(r.UserAgent()),
	}
	if err := h.sessions.RecordLogin(r.Context(), user.ID, token, meta); err != nil {
		// The session itself is valid; it just cannot be revoked in bulk.
		logger.Warn("failed to record session", "user_id", user.ID, "error", err)
	}
	return nil
}
