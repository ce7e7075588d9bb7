package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopfloor/isos/pkg/apperr"
	"github.com/shopfloor/isos/pkg/directory"
)

// credentials may be embedded in request bodies as an alternative to a bearer token.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authenticate resolves the acting employee id from a bearer token or from body
// credentials. Users without an employee id act under their username.
func (s *Server) authenticate(r *http.Request, body credentials) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return "", apperr.Unauthorized("unsupported authorization scheme")
		}
		username, empID, err := s.tokens.Verify(strings.TrimSpace(token))
		if err != nil {
			return "", apperr.Wrap(apperr.KindUnauthorized, err, "invalid or expired session")
		}
		return actorFor(username, empID), nil
	}

	ok, empID, err := s.credentials.Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.Unauthorized("Unauthorized")
	}
	return actorFor(body.Username, empID), nil
}

// optionalActor authenticates only when the request carries a token or credentials.
func (s *Server) optionalActor(r *http.Request, body credentials) (string, error) {
	if r.Header.Get("Authorization") == "" && body.Username == "" && body.Password == "" {
		return "", nil
	}
	return s.authenticate(r, body)
}

func actorFor(username, empID string) string {
	if empID != "" {
		return empID
	}
	return username
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	OK        bool      `json:"ok"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	EmpID     string    `json:"empId"`
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decode[loginRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	ok, empID, err := s.credentials.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !ok {
		writeError(w, s.logger, apperr.Unauthorized("invalid username or password"))
		return
	}
	token, expires, err := s.tokens.Issue(req.Username, empID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info("user logged in", "username", req.Username)
	writeJSON(w, http.StatusOK, loginResponse{OK: true, Token: token, ExpiresAt: expires, EmpID: empID})
}

type changeCredentialsRequest struct {
	Username    string `json:"username" validate:"required"`
	OldPassword string `json:"old_password" validate:"required"`
	NewUsername string `json:"new_username"`
	NewPassword string `json:"new_password"`
	NewEmpID    string `json:"new_emp_id"`
}

func (s *Server) changeCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decode[changeCredentialsRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	err = s.credentials.ChangeCredentials(r.Context(), req.Username, req.OldPassword, directory.CredentialChange{
		NewUsername: req.NewUsername,
		NewPassword: req.NewPassword,
		NewEmpID:    req.NewEmpID,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info("credentials changed", "username", req.Username)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "credentials updated"})
}

type operatorsResponse struct {
	OK        bool                 `json:"ok"`
	Operators []directory.Operator `json:"operators"`
}

func (s *Server) listOperatorsHandler(w http.ResponseWriter, r *http.Request) {
	ops, err := s.operators.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if ops == nil {
		ops = []directory.Operator{}
	}
	writeJSON(w, http.StatusOK, operatorsResponse{OK: true, Operators: ops})
}

type renameOperatorRequest struct {
	Username      string `json:"username" validate:"required"`
	OperatorID    string `json:"operator_id" validate:"required"`
	NewUsername   string `json:"new_username"`
	NewOperatorID string `json:"new_operator_id"`
}

func (s *Server) renameOperatorHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decode[renameOperatorRequest](r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.operators.Rename(r.Context(), req.Username, req.OperatorID, req.NewUsername, req.NewOperatorID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info("operator renamed", "operator_id", req.OperatorID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "operator updated"})
}
