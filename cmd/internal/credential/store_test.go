package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"presence/cmd/internal/apiclient"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("  ")

	if _, ok := s.Credential(ctx); ok {
		t.Fatalf("expected absent credential")
	}
	if err := s.SetCredential(ctx, " "); !errors.Is(err, ErrEmptyCredential) {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
	if err := s.SetCredential(ctx, "tok-1"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if got, ok := s.Credential(ctx); !ok || got != "tok-1" {
		t.Fatalf("Credential()=%q,%v", got, ok)
	}
	if err := s.ClearCredential(ctx); err != nil {
		t.Fatalf("ClearCredential: %v", err)
	}
	if _, ok := s.Credential(ctx); ok {
		t.Fatalf("expected cleared credential")
	}
}

func TestLogin_StoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/students/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var in loginRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.StudentID != "S-1" || in.Password != "pw" {
			t.Errorf("unexpected body: %+v", in)
		}
		_ = json.NewEncoder(w).Encode(loginResponse{Token: "jwt-abc"})
	}))
	defer srv.Close()

	api, _ := apiclient.New(srv.URL + "/api")
	store := NewMemoryStore("")
	auth := NewAuthenticator(api, store)

	if err := auth.Login(context.Background(), " S-1 ", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got, _ := store.Credential(context.Background()); got != "jwt-abc" {
		t.Fatalf("stored credential=%q", got)
	}
}

func TestLogin_ErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "server message", body: `{"message":"Invalid student ID or password"}`, want: "Invalid student ID or password"},
		{name: "fallback", body: ``, want: loginFallbackMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			api, _ := apiclient.New(srv.URL)
			store := NewMemoryStore("")
			err := NewAuthenticator(api, store).Login(context.Background(), "S-1", "bad")

			var le *LoginError
			if !errors.As(err, &le) {
				t.Fatalf("expected LoginError, got %v", err)
			}
			if le.Message != tc.want {
				t.Fatalf("message=%q want=%q", le.Message, tc.want)
			}
			if _, ok := store.Credential(context.Background()); ok {
				t.Fatalf("failed login must not store a credential")
			}
		})
	}
}

func TestLogin_BlankInput(t *testing.T) {
	auth := NewAuthenticator(nil, NewMemoryStore(""))
	if err := auth.Login(context.Background(), " ", "pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegister_PostsAccountWithoutStoringCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/students/register" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("registration must not carry a bearer")
		}
		var in registerRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.StudentID != "S-1" || in.Name != "Ada Lovelace" || in.Password != "pw" {
			t.Errorf("unexpected body: %+v", in)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"message":"Student registered"}`))
	}))
	defer srv.Close()

	api, _ := apiclient.New(srv.URL + "/api")
	store := NewMemoryStore("")
	auth := NewAuthenticator(api, store)

	if err := auth.Register(context.Background(), " S-1 ", " Ada Lovelace ", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := store.Credential(context.Background()); ok {
		t.Fatalf("registration must not store a credential")
	}
}

func TestRegister_ErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "server message", body: `{"message":"Student already exists"}`, want: "Student already exists"},
		{name: "fallback", body: ``, want: loginFallbackMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			api, _ := apiclient.New(srv.URL)
			err := NewAuthenticator(api, NewMemoryStore("")).Register(context.Background(), "S-1", "Ada", "pw")

			var re *RegisterError
			if !errors.As(err, &re) {
				t.Fatalf("expected RegisterError, got %v", err)
			}
			if re.Message != tc.want {
				t.Fatalf("message=%q want=%q", re.Message, tc.want)
			}
		})
	}
}

func TestRegister_BlankInput(t *testing.T) {
	auth := NewAuthenticator(nil, NewMemoryStore(""))
	cases := [][3]string{
		{" ", "Ada", "pw"},
		{"S-1", " ", "pw"},
		{"S-1", "Ada", ""},
	}
	for _, in := range cases {
		if err := auth.Register(context.Background(), in[0], in[1], in[2]); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Register(%q): expected ErrInvalidInput, got %v", in, err)
		}
	}
}
