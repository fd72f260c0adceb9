package credential

import (
	"context"
	"errors"
	"strings"

	"presence/cmd/internal/apiclient"
)

const (
	loginPath    = "/students/login"
	registerPath = "/students/register"

	loginFallbackMessage = "An error occurred."
)

// ErrInvalidInput is returned when login or registration input is blank.
var ErrInvalidInput = errors.New("invalid input")

// LoginError carries the message shown to the student after a failed login.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string { return "login failed: " + e.Message }

func (e *LoginError) Unwrap() error { return e.Err }

// RegisterError carries the message shown to the student after a failed registration.
type RegisterError struct {
	Message string
	Err     error
}

func (e *RegisterError) Error() string { return "registration failed: " + e.Message }

func (e *RegisterError) Unwrap() error { return e.Err }

// Authenticator exchanges student credentials for a bearer credential and stores it.
type Authenticator struct {
	api   *apiclient.Client
	store Store
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(api *apiclient.Client, store Store) *Authenticator {
	return &Authenticator{api: api, store: store}
}

type loginRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login posts the student's ID and password and stores the returned credential.
func (a *Authenticator) Login(ctx context.Context, studentID, password string) error {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" || password == "" {
		return ErrInvalidInput
	}

	var out loginResponse
	if err := a.api.PostJSON(ctx, loginPath, "", loginRequest{StudentID: studentID, Password: password}, &out); err != nil {
		return &LoginError{Message: failureMessage(err), Err: err}
	}

	if strings.TrimSpace(out.Token) == "" {
		return &LoginError{Message: loginFallbackMessage, Err: ErrEmptyCredential}
	}
	return a.store.SetCredential(ctx, out.Token)
}

type registerRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Password  string `json:"password"`
}

// Register creates a student account. It does not log the student in.
func (a *Authenticator) Register(ctx context.Context, studentID, name, password string) error {
	studentID = strings.TrimSpace(studentID)
	name = strings.TrimSpace(name)
	if studentID == "" || name == "" || password == "" {
		return ErrInvalidInput
	}

	req := registerRequest{StudentID: studentID, Name: name, Password: password}
	if err := a.api.PostJSON(ctx, registerPath, "", req, nil); err != nil {
		return &RegisterError{Message: failureMessage(err), Err: err}
	}
	return nil
}

func failureMessage(err error) string {
	if he, ok := apiclient.AsHTTPError(err); ok {
		if m := he.ServerMessage(); m != "" {
			return m
		}
	}
	return loginFallbackMessage
}

// Logout forgets the stored credential.
func (a *Authenticator) Logout(ctx context.Context) error {
	return a.store.ClearCredential(ctx)
}
