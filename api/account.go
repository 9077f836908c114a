package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/elma1989/join/session"
	"github.com/elma1989/join/validation"
)

func (s *Server) signup(c echo.Context) error {
	ctx := c.Request().Context()
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if fields := s.checkForm(validation.FormSignup, map[string]string{
		"name":     req.Name,
		"email":    req.Email,
		"password": req.Password,
	}); len(fields) > 0 {
		return s.invalid(c, fields)
	}

	user, err := s.accounts.Register(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		return s.fail(c, "register", err)
	}
	clientID := clientIDOf(c)
	if err := s.sessions.Start(ctx, clientID, user.ID); err != nil {
		return s.fail(c, "session", err)
	}
	if err := s.sessions.ClearDraft(ctx, clientID); err != nil {
		s.logger.WithError(err).Warn("clear signup draft failed")
	}
	s.dropForm(formKey(clientID, validation.FormSignup))

	resp, err := s.authResponse(user.ID)
	if err != nil {
		return s.fail(c, "token", err)
	}
	resp.Profile = &user.Contact
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) login(c echo.Context) error {
	ctx := c.Request().Context()
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if fields := s.checkForm(validation.FormLogin, map[string]string{
		"email":    req.Email,
		"password": req.Password,
	}); len(fields) > 0 {
		return s.invalid(c, fields)
	}

	userID, err := s.accounts.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return s.fail(c, "signin", err)
	}
	if err := s.sessions.Start(ctx, clientIDOf(c), userID); err != nil {
		return s.fail(c, "session", err)
	}
	resp, err := s.authResponse(userID)
	if err != nil {
		return s.fail(c, "token", err)
	}
	if profile, err := s.accounts.Profile(ctx, userID); err == nil {
		resp.Profile = profile
	} else {
		s.logger.WithError(err).WithField("user", userID).Warn("load profile failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) logout(c echo.Context) error {
	clientID := clientIDOf(c)
	if err := s.sessions.End(c.Request().Context(), clientID); err != nil {
		return s.fail(c, "session", err)
	}
	for _, name := range []string{validation.FormSignup, validation.FormLogin, validation.FormContact, validation.FormTask, validation.FormSubtask} {
		s.dropForm(formKey(clientID, name))
	}
	return c.NoContent(http.StatusNoContent)
}

// restoreSession returns the signed-in user of this client with a fresh token.
func (s *Server) restoreSession(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := s.sessions.UserID(ctx, clientIDOf(c))
	if err != nil {
		return s.fail(c, "session", err)
	}
	resp, err := s.authResponse(userID)
	if err != nil {
		return s.fail(c, "token", err)
	}
	if profile, err := s.accounts.Profile(ctx, userID); err == nil {
		resp.Profile = profile
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) authResponse(userID string) (*authResponse, error) {
	resp := &authResponse{UserID: userID}
	if s.tokens == nil {
		return resp, nil
	}
	token, expires, err := s.tokens.Issue(userID)
	if err != nil {
		return nil, err
	}
	resp.Token, resp.ExpiresAt = token, &expires
	return resp, nil
}

func (s *Server) getDraft(c echo.Context) error {
	d, err := s.sessions.Draft(c.Request().Context(), clientIDOf(c))
	if err != nil {
		return s.fail(c, "session", err)
	}
	return c.JSON(http.StatusOK, d)
}

// putDraft stores the dirty signup fields. Passwords are never kept.
func (s *Server) putDraft(c echo.Context) error {
	var d session.Draft
	if err := c.Bind(&d); err != nil {
		return err
	}
	for k := range d {
		if strings.Contains(strings.ToLower(k), "password") {
			delete(d, k)
		}
	}
	if err := s.sessions.SaveDraft(c.Request().Context(), clientIDOf(c), d); err != nil {
		return s.fail(c, "session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteDraft(c echo.Context) error {
	if err := s.sessions.ClearDraft(c.Request().Context(), clientIDOf(c)); err != nil {
		return s.fail(c, "session", err)
	}
	return c.NoContent(http.StatusNoContent)
}
