package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grandline/identity/internal/common"
)

type messageResponse struct {
	Message string `json:"message"`
}

func statusFor(kind common.Kind) int {
	switch kind {
	case common.KindInvalidInput:
		return http.StatusBadRequest
	case common.KindConflict:
		return http.StatusConflict
	case common.KindUnauthorized:
		return http.StatusUnauthorized
	case common.KindNotFound:
		return http.StatusNotFound
	default:
		// KindDeliveryFailure and KindInternal both map to 500; the message
		// keeps them apart.
		return http.StatusInternalServerError
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(messageResponse{Message: message})
}

// writeError maps a service failure to a status code and a user-safe
// message. Anything that is not a typed boundary error is an unexpected
// fault and never leaks its text.
func writeError(w http.ResponseWriter, err error) {
	var typed *common.Error
	if errors.As(err, &typed) {
		writeMessage(w, statusFor(typed.Kind), typed.Message)
		return
	}
	writeMessage(w, http.StatusInternalServerError, "internal server error")
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

type signupRequest struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	LoginID   string `json:"login_id"`
	Password  string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := s.identity.Register(r.Context(), req.FirstName, req.LastName, req.LoginID, req.Password)
	if err != nil {
		s.logger.Warn(r.Context(), "signup rejected", "error", err)
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusCreated, receipt.MessageID)
}

type signinRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if !decode(w, r, &req) {
		return
	}

	token, err := s.identity.Authenticate(r.Context(), req.LoginID, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, token)
}

type loginIDRequest struct {
	LoginID string `json:"login_id"`
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req loginIDRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := s.identity.RequestPasswordReset(r.Context(), req.LoginID)
	if err != nil {
		s.logger.Warn(r.Context(), "password reset rejected", "error", err)
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, receipt.MessageID)
}

type confirmCodeRequest struct {
	LoginID string `json:"login_id"`
	Code    string `json:"code"`
}

func (s *Server) handleConfirmCode(w http.ResponseWriter, r *http.Request) {
	var req confirmCodeRequest
	if !decode(w, r, &req) {
		return
	}

	if err := s.identity.ConfirmCode(r.Context(), req.LoginID, req.Code); err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, "code confirmed successfully")
}

func (s *Server) handleResendCode(w http.ResponseWriter, r *http.Request) {
	var req loginIDRequest
	if !decode(w, r, &req) {
		return
	}

	receipt, err := s.identity.ResendCode(r.Context(), req.LoginID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeMessage(w, http.StatusOK, receipt.MessageID)
}
