package validation

import (
	"fmt"
	"time"
)

// Names of the forms the application knows how to build.
const (
	FormSignup  = "signup"
	FormLogin   = "login"
	FormContact = "contact"
	FormTask    = "task"
	FormSubtask = "subtask"
)

// Deps supplies the live inputs some rules need.
type Deps struct {
	Now      func() time.Time
	Subtasks func() []string
}

// Build creates a fresh form by name.
func Build(name string, deps Deps) (*Form, error) {
	switch name {
	case FormSignup:
		return NewForm(
			NewField("name", StrictRequired(), CustomMinLength(2), FirstUpperCase()),
			NewField("email", StrictRequired(), Email()),
			NewField("password", StrictRequired(), CustomMinLength(8)),
		), nil
	case FormLogin:
		return NewForm(
			NewField("email", StrictRequired(), Email()),
			NewField("password", StrictRequired()),
		), nil
	case FormContact:
		return NewForm(
			NewField("firstname", StrictRequired(), CustomMinLength(2), FirstUpperCase()),
			NewField("lastname", StrictRequired(), CustomMinLength(2), FirstUpperCase()),
			NewField("email", StrictRequired(), Email()),
			NewField("tel", StrictRequired(), Tel()),
		), nil
	case FormTask:
		return NewForm(
			NewField("title", StrictRequired()),
			NewField("description"),
			NewField("date", StrictRequired(), DateFormat(), DateInPast(deps.Now)),
			NewField("category", StrictRequired()),
		), nil
	case FormSubtask:
		return NewForm(
			NewField("name", StrictRequired(), SubtaskExist(deps.Subtasks)),
		), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownForm, name)
}
