package httpapi

import (
	"strings"
	"testing"
	"time"

	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", memory.NewSeeded())

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %q, want admin", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour, "123456", memory.NewSeeded())
	verifier := NewAuthManager("secret-two", time.Hour, "123456", memory.NewSeeded())

	resp, err := issuer.Login(domain.LoginRequest{Username: "staff", Password: "staff123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", nil)

	if _, err := auth.ParseToken("not.a.token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}

func TestLoginRejectsBadPasswordAndUnknownUser(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", memory.NewSeeded())

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "ghost", Password: "whatever"}); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestValidateManagerPIN(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "424242", nil)

	if !auth.ValidateManagerPIN("424242") {
		t.Fatalf("expected correct PIN to validate")
	}
	if auth.ValidateManagerPIN("000000") {
		t.Fatalf("expected wrong PIN to fail")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatalf("expected empty PIN to fail")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", memory.New())

	cases := []struct {
		name string
		req  domain.StaffCreateRequest
	}{
		{"short username", domain.StaffCreateRequest{Username: "ab", Password: "secret123"}},
		{"spaced username", domain.StaffCreateRequest{Username: "a user", Password: "secret123"}},
		{"short password", domain.StaffCreateRequest{Username: "valid", Password: "123"}},
	}
	for _, tc := range cases {
		if _, err := auth.CreateStaff(tc.req); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	created, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "Dewi", Password: "secret123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Username != "dewi" {
		t.Fatalf("username not lowercased: %q", created.Username)
	}

	if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "dewi", Password: "secret123"}); err == nil ||
		!strings.Contains(err.Error(), "exists") {
		t.Fatalf("duplicate create error = %v", err)
	}
}

func TestListStaffSorted(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", memory.New())

	for _, name := range []string{"zaki", "andi", "mira"} {
		if _, err := auth.CreateStaff(domain.StaffCreateRequest{Username: name, Password: "secret123"}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	staff := auth.ListStaff()
	if len(staff) != 3 {
		t.Fatalf("staff = %d, want 3", len(staff))
	}
	for i := 1; i < len(staff); i++ {
		if staff[i-1].Username > staff[i].Username {
			t.Fatalf("staff not sorted: %+v", staff)
		}
	}
}
