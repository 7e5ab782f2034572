package api

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
	"github.com/nhalm/staffkit"
	"github.com/nhalm/staffkit/password"
	"github.com/nhalm/staffkit/users"
)

type credentialsRequest struct {
	Email    string `query:"email" json:"email"`
	Password string `query:"password" json:"password"`
}

type registerRequest struct {
	Email      string `query:"email" json:"email" validate:"required,email"`
	Password   string `query:"password" json:"password" validate:"required"`
	Repassword string `query:"repassword" json:"repassword"`
}

type updateRequest struct {
	Picture  string `query:"picture" json:"picture" validate:"max=2048"`
	Title    string `query:"title" json:"title" validate:"max=200"`
	Email    string `query:"email" json:"email" validate:"omitempty,email"`
	Password string `query:"password" json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type emailResponse struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type listResponse struct {
	Users []users.Summary `json:"users"`
}

const (
	msgUnrecognized     = "Unrecognized Provider"
	msgMissingLogin     = "email or password not provided"
	msgUserExists       = "user already exists"
	msgPasswordMismatch = "password do not match"
	msgUserDeleted      = "user has been deleted"
)

// bind reads a JSON body when the request declares one and query or form
// parameters otherwise.
func bind(r *http.Request, dest any) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && mt == "application/json" {
		return staffkit.JSON(r, dest)
	}
	return staffkit.Params(r, dest)
}

// quirk answers with the historical 200 message, or with strictErr when
// strict status codes are enabled.
func (a *API) quirk(r *http.Request, message string, strictErr *staffkit.APIError) {
	if a.strict {
		staffkit.SetError(r, strictErr.With(message))
		return
	}
	staffkit.SetResponse(r, http.StatusOK, messageResponse{Message: message})
}

func logFields(ctx context.Context, fields map[string]any) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAddMany(ctx, fields)
	}
}

func logError(ctx context.Context, err error) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
	}
}

func (a *API) issueToken(_ http.ResponseWriter, r *http.Request) {
	p, ok := staffkit.PrincipalFromContext(r.Context())
	if !ok {
		staffkit.SetError(r, staffkit.ErrUnauthorized)
		return
	}

	tok, err := a.tokens.Issue(p.UserID, a.endpointTTL)
	if err != nil {
		logError(r.Context(), err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}
	staffkit.SetResponse(r, http.StatusOK, tokenResponse{Token: tok})
}

func (a *API) login(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req credentialsRequest
	if !bind(r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		a.quirk(r, msgMissingLogin, staffkit.ErrBadRequest)
		return
	}

	u, err := a.users.FindByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}
	if err != nil || !a.passwords.Verify(req.Password, u.PasswordHash) {
		logFields(ctx, map[string]any{"login": "rejected"})
		a.quirk(r, msgUnrecognized, staffkit.ErrUnauthorized)
		return
	}

	a.rehash(ctx, u, req.Password)

	tok, err := a.tokens.Issue(u.ID, a.loginTTL)
	if err != nil {
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}
	logFields(ctx, map[string]any{"login": "ok", "user_id": u.ID})
	staffkit.SetResponse(r, http.StatusOK, tokenResponse{Token: tok})
}

// rehash upgrades a stored hash made with weaker parameters. Failure is
// logged and otherwise ignored; the login itself already succeeded.
func (a *API) rehash(ctx context.Context, u users.User, plain string) {
	if !a.passwords.NeedsRehash(u.PasswordHash) {
		return
	}
	hash, err := a.passwords.Hash(plain)
	if err != nil {
		logError(ctx, fmt.Errorf("rehash: %w", err))
		return
	}
	u.PasswordHash = hash
	if err := a.users.Update(ctx, u); err != nil {
		logError(ctx, fmt.Errorf("rehash: %w", err))
		return
	}
	logFields(ctx, map[string]any{"password_rehashed": true})
}

func (a *API) register(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if !bind(r, &req) {
		return
	}

	_, err := a.users.FindByEmail(ctx, req.Email)
	switch {
	case err == nil:
		a.quirk(r, msgUserExists, staffkit.ErrConflict)
		return
	case !errors.Is(err, users.ErrNotFound):
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}

	if req.Password != req.Repassword {
		a.quirk(r, msgPasswordMismatch, staffkit.ErrBadRequest)
		return
	}

	hash, err := a.passwords.Hash(req.Password)
	if errors.Is(err, password.ErrPasswordTooLong) {
		staffkit.SetError(r, staffkit.ErrBadRequest.WithParam("Password too long", "password"))
		return
	}
	if err != nil {
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}

	u, err := a.users.Create(ctx, users.User{Email: req.Email, PasswordHash: hash})
	if errors.Is(err, users.ErrExists) {
		a.quirk(r, msgUserExists, staffkit.ErrConflict)
		return
	}
	if err != nil {
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}

	logFields(ctx, map[string]any{"user_id": u.ID})
	staffkit.SetResponse(r, http.StatusCreated, emailResponse{Email: u.Email})
}

func userID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (a *API) getUser(_ http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		staffkit.SetError(r, staffkit.ErrBadRequest.With("Invalid user id"))
		return
	}

	u, err := a.users.FindByID(r.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		staffkit.SetError(r, staffkit.ErrBadRequest.With("User not found"))
		return
	}
	if err != nil {
		logError(r.Context(), err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}
	staffkit.SetResponse(r, http.StatusOK, emailResponse{Email: u.Email})
}

func (a *API) listUsers(_ http.ResponseWriter, r *http.Request) {
	all, err := a.users.List(r.Context())
	if err != nil {
		logError(r.Context(), err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}

	resp := listResponse{Users: make([]users.Summary, 0, len(all))}
	for _, u := range all {
		resp.Users = append(resp.Users, u.Summary())
	}
	staffkit.SetResponse(r, http.StatusOK, resp)
}

func (a *API) updateUser(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := userID(r)
	if !ok {
		staffkit.SetError(r, staffkit.ErrBadRequest.With("Invalid user id"))
		return
	}

	var req updateRequest
	if !bind(r, &req) {
		return
	}

	u, err := a.users.FindByID(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		staffkit.SetError(r, staffkit.ErrNotFound.With("User not found"))
		return
	}
	if err != nil {
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}

	if req.Picture != "" {
		u.Picture = req.Picture
	}
	if req.Title != "" {
		u.Title = req.Title
	}
	if req.Email != "" {
		u.Email = req.Email
	}
	if req.Password != "" {
		hash, err := a.passwords.Hash(req.Password)
		if errors.Is(err, password.ErrPasswordTooLong) {
			staffkit.SetError(r, staffkit.ErrBadRequest.WithParam("Password too long", "password"))
			return
		}
		if err != nil {
			logError(ctx, err)
			staffkit.SetError(r, staffkit.ErrInternal)
			return
		}
		u.PasswordHash = hash
	}

	switch err := a.users.Update(ctx, u); {
	case errors.Is(err, users.ErrExists):
		staffkit.SetError(r, staffkit.ErrConflict.WithParam("Email already registered", "email"))
		return
	case errors.Is(err, users.ErrNotFound):
		staffkit.SetError(r, staffkit.ErrNotFound.With("User not found"))
		return
	case err != nil:
		logError(ctx, err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}

	staffkit.SetResponse(r, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("user with email %s has been updated ", u.Email),
	})
}

func (a *API) deleteUser(_ http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		staffkit.SetError(r, staffkit.ErrBadRequest.With("Invalid user id"))
		return
	}

	err := a.users.Delete(r.Context(), id)
	if errors.Is(err, users.ErrNotFound) {
		staffkit.SetError(r, staffkit.ErrNotFound.With("User not found"))
		return
	}
	if err != nil {
		logError(r.Context(), err)
		staffkit.SetError(r, staffkit.ErrInternal)
		return
	}
	staffkit.SetResponse(r, http.StatusOK, messageResponse{Message: msgUserDeleted})
}
