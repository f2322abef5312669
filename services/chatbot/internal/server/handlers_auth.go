package server

import (
	"errors"
	"net/http"

	"novachat/pkg/domain"
	"novachat/services/chatbot/internal/app"
)

type signupRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	UseCase    string `json:"useCase"`
	Experience string `json:"experience"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword,omitempty"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	app.AuthResult
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type sessionResponse struct {
	Authenticated bool                  `json:"authenticated"`
	Account       *domain.PublicAccount `json:"account,omitempty"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "auth.signup") {
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Signup(r.Context(), app.SignupInput{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		UseCase:    req.UseCase,
		Experience: req.Experience,
	})
	if err != nil {
		s.audit(r, "auth.signup", "fail", "reason", app.Message(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.signup", "success", "account_id", res.Account.ID)
	s.setSessionCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusCreated, authResponse{Success: true, Message: "User registered successfully", AuthResult: res})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "auth.login") {
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		outcome := "fail"
		if errors.Is(err, app.ErrLocked) {
			outcome = "locked"
		}
		s.audit(r, "auth.login", outcome, "reason", app.Message(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.login", "success", "account_id", res.Account.ID)
	s.setSessionCookie(w, res.Token, res.ExpiresAt)
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "Login successful", AuthResult: res})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(r.Context(), p); err != nil {
		s.audit(r, "auth.logout", "fail", "account_id", p.AccountID())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", "success", "account_id", p.AccountID())
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "account": s.app.Me(p)})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, p domain.Principal, ok bool) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	resp := sessionResponse{Authenticated: ok}
	if ok {
		acct := s.app.Me(p)
		resp.Account = &acct
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "auth.forgot_password") {
		return
	}
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ForgotPassword(r.Context(), req.Email); err != nil {
		s.audit(r, "auth.forgot_password", "fail", "reason", app.Message(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.forgot_password", "success")
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "OTP sent to your email address"})
}

func (s *Server) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "auth.verify_otp") {
		return
	}
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.VerifyOtp(r.Context(), req.Email, req.OTP); err != nil {
		s.audit(r, "auth.verify_otp", "fail", "reason", app.Message(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.verify_otp", "success")
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "OTP verified successfully"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, "auth.reset_password") {
		return
	}
	var req otpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ResetPassword(r.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		s.audit(r, "auth.reset_password", "fail", "reason", app.Message(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.reset_password", "success")
	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: "Password reset successfully. You can now login with your new password.",
	})
}
