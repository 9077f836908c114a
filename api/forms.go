package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/elma1989/join/validation"
)

func formKey(clientID, form string) string {
	return clientID + ":" + form
}

// checkForm validates values against a throwaway form.
func (s *Server) checkForm(name string, values map[string]string) validation.ErrorMap {
	form, err := validation.Build(name, validation.Deps{Now: s.now})
	if err != nil {
		return validation.ErrorMap{"form": {err.Error()}}
	}
	for field, v := range values {
		_ = form.Set(field, v)
	}
	return s.forms.ValidateForm(form)
}

// subtaskNames holds the names the subtask form compares against. Clients
// send the current list along with each field update.
type subtaskNames struct {
	mu    sync.RWMutex
	names []string
}

func (n *subtaskNames) set(names []string) {
	n.mu.Lock()
	n.names = append([]string(nil), names...)
	n.mu.Unlock()
}

func (n *subtaskNames) get() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.names
}

type fieldResponse struct {
	Valid  bool                `json:"valid"`
	Errors validation.ErrorMap `json:"errors"`
}

type liveForm struct {
	form     *validation.Form
	subtasks *subtaskNames
	touched  time.Time
}

// setField updates one field of the client's live form, creating the form on
// first use, and returns the errors of the whole form.
func (s *Server) setField(c echo.Context) error {
	var req struct {
		fieldRequest
		Existing []string `json:"existing"`
	}
	if err := c.Bind(&req); err != nil {
		return err
	}
	name := c.Param("form")
	if issuedClientID(c) {
		// The client has no id yet, so nothing could find a live form again.
		return s.checkField(c, name, req.Value, req.Existing)
	}
	key := formKey(clientIDOf(c), name)

	lf, err := s.liveForm(key, name)
	if err != nil {
		return s.fail(c, "form", err)
	}
	if req.Existing != nil {
		lf.subtasks.set(req.Existing)
	}
	if err := lf.form.Set(c.Param("field"), req.Value); err != nil {
		return s.fail(c, "form", err)
	}
	errs, err := s.forms.Validate(key)
	if err != nil {
		return s.fail(c, "form", err)
	}
	return c.JSON(http.StatusOK, fieldResponse{Valid: len(errs) == 0, Errors: errs})
}

// checkField validates a single field on a form that is not kept.
func (s *Server) checkField(c echo.Context, name, value string, existing []string) error {
	names := &subtaskNames{}
	names.set(existing)
	form, err := validation.Build(name, validation.Deps{Now: s.now, Subtasks: names.get})
	if err != nil {
		return s.fail(c, "form", err)
	}
	if err := form.Set(c.Param("field"), value); err != nil {
		return s.fail(c, "form", err)
	}
	errs := s.forms.ValidateForm(form)
	return c.JSON(http.StatusOK, fieldResponse{Valid: len(errs) == 0, Errors: errs})
}

func (s *Server) liveForm(key, name string) (*liveForm, error) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	now := s.now()
	s.sweepForms(now)
	if lf, ok := s.live[key]; ok {
		if form, ok := s.forms.Form(key); ok && form == lf.form {
			lf.touched = now
			return lf, nil
		}
	}
	names := &subtaskNames{}
	form, err := validation.Build(name, validation.Deps{Now: s.now, Subtasks: names.get})
	if err != nil {
		return nil, err
	}
	lf := &liveForm{form: form, subtasks: names, touched: now}
	s.live[key] = lf
	s.forms.Register(key, form)
	return lf, nil
}

// sweepForms drops live forms idle for longer than the idle TTL. It runs at
// most twice per TTL. Callers hold liveMu.
func (s *Server) sweepForms(now time.Time) {
	ttl := s.opts.FormIdleTTL
	if now.Sub(s.lastSweep) < ttl/2 {
		return
	}
	s.lastSweep = now
	for key, lf := range s.live {
		if now.Sub(lf.touched) > ttl {
			delete(s.live, key)
			s.forms.RemoveForm(key)
		}
	}
}

func (s *Server) liveForms() int {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return len(s.live)
}

func (s *Server) dropForm(key string) {
	s.liveMu.Lock()
	delete(s.live, key)
	s.liveMu.Unlock()
	s.forms.RemoveForm(key)
}

func (s *Server) removeForm(c echo.Context) error {
	name := c.Param("form")
	if _, err := validation.Build(name, validation.Deps{}); errors.Is(err, validation.ErrUnknownForm) {
		return s.fail(c, "form", err)
	}
	s.dropForm(formKey(clientIDOf(c), name))
	return c.NoContent(http.StatusNoContent)
}
