// Package api serves the board, the address book and the auth flow over
// HTTP and pushes live snapshots over server-sent events.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/elma1989/join/board"
	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/mirror"
	"github.com/elma1989/join/session"
	"github.com/elma1989/join/validation"
)

const (
	ctxUserID          = "join.user"
	defaultHeartbeat   = 25 * time.Second
	defaultFormIdleTTL = 30 * time.Minute
)

// Options wires a Server.
type Options struct {
	Auth     Authenticator
	Accounts Accounts
	Tokens   TokenIssuer
	Sessions Sessions
	Contacts *board.ContactBook
	Board    *board.TaskBoard
	Forms    *validation.Registry

	// Source and Feed back the mirrors of each event stream.
	Source mirror.Source
	Feed   changefeed.Feed

	Logger         *log.Logger
	ToastTTL       time.Duration
	FormIdleTTL    time.Duration
	Heartbeat      time.Duration
	RefreshRate    float64
	RefreshBurst   int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Now            func() time.Time
}

// Server holds the HTTP handlers.
type Server struct {
	auth     Authenticator
	accounts Accounts
	tokens   TokenIssuer
	sessions Sessions
	contacts *board.ContactBook
	board    *board.TaskBoard
	forms    *validation.Registry
	source   mirror.Source
	feed     changefeed.Feed
	hub      *Hub
	logger   *log.Logger
	opts     Options
	now      func() time.Time

	liveMu    sync.Mutex
	live      map[string]*liveForm
	lastSweep time.Time
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.FormIdleTTL <= 0 {
		opts.FormIdleTTL = defaultFormIdleTTL
	}
	if opts.Forms == nil {
		opts.Forms = validation.NewRegistry()
	}
	return &Server{
		auth:     opts.Auth,
		accounts: opts.Accounts,
		tokens:   opts.Tokens,
		sessions: opts.Sessions,
		contacts: opts.Contacts,
		board:    opts.Board,
		forms:    opts.Forms,
		source:   opts.Source,
		feed:     opts.Feed,
		hub:      NewHub(),
		logger:   opts.Logger,
		opts:     opts,
		now:      opts.Now,
		live:     map[string]*liveForm{},
	}
}

// Hub returns the registry of open streams.
func (s *Server) Hub() *Hub { return s.hub }

// Register wires up all API routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.JSONSerializer = SonicSerializer{}
	e.GET("/healthz", healthz)

	g := e.Group("/api", ClientID(), RequestMetrics(s.logger))

	g.POST("/auth/signup", s.signup)
	g.POST("/auth/login", s.login)
	g.POST("/auth/logout", s.logout)
	g.GET("/auth/session", s.restoreSession)
	g.GET("/auth/signup-draft", s.getDraft)
	g.PUT("/auth/signup-draft", s.putDraft)
	g.DELETE("/auth/signup-draft", s.deleteDraft)

	g.PUT("/forms/:form/fields/:field", s.setField)
	g.DELETE("/forms/:form", s.removeForm)

	authed := g.Group("", s.requireUser)
	authed.GET("/contacts", s.listContacts)
	authed.POST("/contacts", s.createContact)
	authed.PUT("/contacts/:id", s.updateContact)
	authed.DELETE("/contacts/:id", s.deleteContact)

	authed.GET("/tasks", s.listTasks)
	authed.GET("/tasks/:id", s.getTask)
	authed.POST("/tasks", s.saveTask)
	authed.PUT("/tasks/:id", s.saveTask)
	authed.PATCH("/tasks/:id/status", s.moveTask)
	authed.DELETE("/tasks/:id", s.deleteTask)

	authed.GET("/summary", s.summary)
	authed.GET("/stream", s.stream)
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// requireUser authenticates a bearer token, a token query parameter (for
// EventSource clients) or the client's session, in that order.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		userID, err := s.authenticate(c)
		metricsFrom(c).ObserveAuth(time.Since(start))
		if err != nil {
			metricsFrom(c).SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		c.Set(ctxUserID, userID)
		return next(c)
	}
}

func (s *Server) authenticate(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := c.QueryParam("token"); token != "" {
			header = "Bearer " + token
		}
	}
	if header != "" {
		if s.auth == nil {
			return "", errors.New("token authentication disabled")
		}
		return s.auth.UserIDFromAuthHeader(header)
	}
	if s.sessions == nil {
		return "", errMissingAuthorization
	}
	userID, err := s.sessions.UserID(c.Request().Context(), clientIDOf(c))
	if errors.Is(err, session.ErrNoSession) {
		return "", errMissingAuthorization
	}
	return userID, err
}

func (s *Server) listContacts(c echo.Context) error {
	start := time.Now()
	groups, err := s.contacts.Groups(c.Request().Context())
	metricsFrom(c).ObserveFetch(time.Since(start))
	if err != nil {
		return s.fail(c, "fetch", err)
	}
	n := 0
	for _, g := range groups {
		n += len(g.Contacts)
	}
	metricsFrom(c).SetItemsReturned(n)
	if groups == nil {
		groups = []board.Group{}
	}
	return c.JSON(http.StatusOK, groups)
}

func (s *Server) createContact(c echo.Context) error {
	var req contactRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	contact := domain.NewContact(req.FirstName, req.LastName, req.Email, req.Tel)
	if req.Color != "" {
		contact.Color = req.Color
	}
	if fields, err := s.forms.ValidateStruct(contact); err != nil {
		return s.fail(c, "validate", err)
	} else if fields != nil {
		return s.invalid(c, fields)
	}
	if err := s.contacts.Create(c.Request().Context(), contact); err != nil {
		return s.fail(c, "store", err)
	}
	return c.JSON(http.StatusCreated, contact)
}

func (s *Server) updateContact(c echo.Context) error {
	ctx := c.Request().Context()
	var req contactRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	contact, err := s.contacts.Get(ctx, c.Param("id"))
	if err != nil {
		return s.fail(c, "fetch", err)
	}
	contact.FirstName = strings.TrimSpace(req.FirstName)
	contact.LastName = strings.TrimSpace(req.LastName)
	contact.Email = strings.TrimSpace(req.Email)
	contact.Tel = strings.TrimSpace(req.Tel)
	if req.Color != "" {
		contact.Color = req.Color
	}
	if fields, err := s.forms.ValidateStruct(contact); err != nil {
		return s.fail(c, "validate", err)
	} else if fields != nil {
		return s.invalid(c, fields)
	}
	if err := s.contacts.Update(ctx, contact); err != nil {
		return s.fail(c, "store", err)
	}
	return c.JSON(http.StatusOK, contact)
}

func (s *Server) deleteContact(c echo.Context) error {
	if err := s.contacts.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, "store", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listTasks(c echo.Context) error {
	start := time.Now()
	cols, err := s.board.Columns(c.Request().Context(), c.QueryParam("q"))
	metricsFrom(c).ObserveFetch(time.Since(start))
	if err != nil {
		return s.fail(c, "fetch", err)
	}
	n := 0
	for _, col := range cols {
		n += len(col.Tasks)
	}
	metricsFrom(c).SetItemsReturned(n)
	return c.JSON(http.StatusOK, cols)
}

func (s *Server) getTask(c echo.Context) error {
	task, err := s.board.Task(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, "fetch", err)
	}
	return c.JSON(http.StatusOK, task)
}

type saveResponse struct {
	Task         *domain.Task       `json:"task"`
	Result       *board.BatchResult `json:"result"`
	Notification string             `json:"notification,omitempty"`
}

// saveTask creates or updates a task together with its subtask edits in one
// batched save.
func (s *Server) saveTask(c echo.Context) error {
	ctx := c.Request().Context()
	var req taskRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	// An empty policy leaves the choice to the board's configured default.
	var policy board.Policy
	if req.Policy != "" {
		p, err := board.ParsePolicy(req.Policy)
		if err != nil {
			metricsFrom(c).SetErrorStage("policy")
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		policy = p
	}

	var (
		existing *domain.Task
		err      error
	)
	if id := c.Param("id"); id != "" {
		if existing, err = s.board.Task(ctx, id); err != nil {
			return s.fail(c, "fetch", err)
		}
	}

	fields := s.validateTaskForm(req, existing)
	for k, v := range foreignSubtasks(req.Subtasks, existing) {
		fields[k] = v
	}
	task := taskFromRequest(req, existing)
	structFields, err := s.forms.ValidateStruct(task)
	if err != nil {
		return s.fail(c, "validate", err)
	}
	for k, v := range structFields {
		if _, dup := fields[k]; !dup {
			fields[k] = v
		}
	}
	if len(fields) > 0 {
		return s.invalid(c, fields)
	}

	res, err := s.board.SaveTask(ctx, task, policy)
	var batchErr *board.BatchError
	switch {
	case errors.As(err, &batchErr) && res != nil:
		note := notificationOf(err)
		if userID, ok := c.Get(ctxUserID).(string); ok {
			s.hub.Notify(userID, note)
		}
		metricsFrom(c).SetErrorStage("subtasks")
		s.logger.WithError(err).WithField("task", task.ID).Warn("task saved with parked subtask writes")
		return c.JSON(http.StatusAccepted, saveResponse{Task: task, Result: res, Notification: note})
	case err != nil:
		return s.fail(c, "store", err)
	}
	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	return c.JSON(status, saveResponse{Task: task, Result: res})
}

// validateTaskForm runs the task form rules. An unchanged due date of an
// existing task is not checked against today so overdue tasks stay editable.
func (s *Server) validateTaskForm(req taskRequest, existing *domain.Task) validation.ErrorMap {
	form, err := validation.Build(validation.FormTask, validation.Deps{Now: s.now})
	if err != nil {
		return validation.ErrorMap{"form": {err.Error()}}
	}
	_ = form.Set("title", req.Title)
	_ = form.Set("description", req.Description)
	_ = form.Set("date", formDate(req.DueDate))
	_ = form.Set("category", string(req.Category))
	fields := s.forms.ValidateForm(form)
	if existing != nil && !existing.DueDate.IsZero() {
		if d, ok := parseDueDate(req.DueDate); ok && d.Equal(existing.DueDate) {
			delete(fields, "date")
		}
	}
	return fields
}

func taskFromRequest(req taskRequest, existing *domain.Task) *domain.Task {
	task := &domain.Task{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Priority:    req.Priority,
		Category:    req.Category,
		Status:      req.Status,
		AssignedTo:  req.AssignedTo,
	}
	if existing != nil {
		task.ID = existing.ID
		task.HasSubtasks = existing.HasSubtasks
		if task.Status == "" {
			task.Status = existing.Status
		}
	}
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if task.Priority == "" {
		task.Priority = domain.PriorityMedium
	}
	if d, ok := parseDueDate(req.DueDate); ok {
		task.DueDate = d
	}
	task.Subtasks = mergeSubtasks(req.Subtasks, existing, task.ID)
	return task
}

// mergeSubtasks lays the requested subtasks over the stored ones by id.
// Stored subtasks the request does not mention are kept untouched, so an edit
// without a subtask list keeps them and the subtask flag stays right.
func mergeSubtasks(reqs []subtaskRequest, existing *domain.Task, taskID string) []*domain.SubTask {
	var out []*domain.SubTask
	index := make(map[string]int)
	if existing != nil {
		for _, st := range existing.Subtasks {
			index[st.ID] = len(out)
			out = append(out, &domain.SubTask{ID: st.ID, TaskID: taskID, Name: st.Name, Finished: st.Finished})
		}
	}
	for _, r := range reqs {
		st := &domain.SubTask{
			ID:        r.ID,
			TaskID:    taskID,
			Name:      strings.TrimSpace(r.Name),
			Finished:  r.Finished,
			EditState: r.EditState,
		}
		if i, ok := index[r.ID]; ok && r.ID != "" {
			out[i] = st
			continue
		}
		out = append(out, st)
	}
	return out
}

// foreignSubtasks reports requested subtask ids that do not belong to the
// task being saved. A new task owns no subtasks yet.
func foreignSubtasks(reqs []subtaskRequest, existing *domain.Task) validation.ErrorMap {
	owned := make(map[string]bool)
	if existing != nil {
		for _, st := range existing.Subtasks {
			owned[st.ID] = true
		}
	}
	var msgs []string
	for _, r := range reqs {
		if r.ID != "" && !owned[r.ID] {
			msgs = append(msgs, fmt.Sprintf("Subtask %s does not belong to this task", r.ID))
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return validation.ErrorMap{"subtaskList": msgs}
}

// parseDueDate accepts the form layout MM/DD/YYYY and ISO dates.
func parseDueDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{validation.DateLayout, domain.DateLayout} {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// formDate converts an ISO date into the form layout so both spellings are
// checked by the same rules.
func formDate(raw string) string {
	if d, err := time.Parse(domain.DateLayout, strings.TrimSpace(raw)); err == nil {
		return d.Format(validation.DateLayout)
	}
	return raw
}

func (s *Server) moveTask(c echo.Context) error {
	ctx := c.Request().Context()
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	var (
		task *domain.Task
		err  error
	)
	switch req.Step {
	case "next", "prev":
		task, err = s.board.Step(ctx, c.Param("id"), req.Step == "next")
	case "":
		task, err = s.board.Move(ctx, c.Param("id"), domain.Status(req.Status))
	default:
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "step must be next or prev"})
	}
	if err != nil {
		return s.fail(c, "store", err)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) deleteTask(c echo.Context) error {
	if err := s.board.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, "store", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) summary(c echo.Context) error {
	sum, err := s.board.Summary(c.Request().Context(), s.now())
	if err != nil {
		return s.fail(c, "fetch", err)
	}
	return c.JSON(http.StatusOK, sum)
}

// limiter returns a fresh refresh limiter for one stream, or nil when
// refreshes are not throttled.
func (s *Server) limiter() *rate.Limiter {
	if s.opts.RefreshRate <= 0 {
		return nil
	}
	burst := s.opts.RefreshBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.RefreshRate), burst)
}
