package http

import (
	"errors"
	"log/slog"
	"net/http"

	"kakeibo/internal/auth"
)

const sessionCookie = "kakeibo_session"

// identity resolves the session cookie to a logged-in username. Empty
// means not logged in.
func (s *Server) identity(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	username, ok := s.sessions.Identity(c.Value)
	if !ok {
		return ""
	}
	return username
}

type loginPage struct {
	Error  string
	Notice string
}

// handleLogin serves the login form and processes submissions.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.identity(r) != "" {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		s.render(w, r, "login.html", loginPage{})

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			s.render(w, r, "login.html", loginPage{Error: "リクエストを読み取れませんでした"})
			return
		}

		username := sanitizeInput(r.Form.Get("username"))
		password := r.Form.Get("password")

		u, err := s.auth.Login(r.Context(), username, password)
		switch {
		case errors.Is(err, auth.ErrMissingCredentials):
			w.WriteHeader(http.StatusUnprocessableEntity)
			s.render(w, r, "login.html", loginPage{Error: "ユーザー名とパスワードを入力してください"})
			return
		case errors.Is(err, auth.ErrInvalidLogin):
			w.WriteHeader(http.StatusUnauthorized)
			s.render(w, r, "login.html", loginPage{Error: "ユーザー名またはパスワードが違います"})
			return
		case err != nil:
			slog.ErrorContext(r.Context(), "Login failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			s.render(w, r, "login.html", loginPage{Error: "ログインに失敗しました。もう一度お試しください"})
			return
		}

		token := s.sessions.Start(u.Username)
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleRegister creates a new user. Registration never logs the user
// in; it lands back on the login form.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		s.render(w, r, "login.html", loginPage{Error: "リクエストを読み取れませんでした"})
		return
	}

	username := sanitizeInput(r.Form.Get("username"))
	password := r.Form.Get("password")

	err := s.auth.Register(r.Context(), username, password)
	switch {
	case errors.Is(err, auth.ErrMissingCredentials):
		w.WriteHeader(http.StatusUnprocessableEntity)
		s.render(w, r, "login.html", loginPage{Error: "ユーザー名とパスワードを入力してください"})
	case errors.Is(err, auth.ErrUsernameTaken):
		w.WriteHeader(http.StatusConflict)
		s.render(w, r, "login.html", loginPage{Error: "このユーザー名は既に使われています"})
	case err != nil:
		slog.ErrorContext(r.Context(), "Registration failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		s.render(w, r, "login.html", loginPage{Error: "登録に失敗しました。もう一度お試しください"})
	default:
		s.render(w, r, "login.html", loginPage{Notice: "登録しました。ログインしてください"})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if c, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.End(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
