package service

import (
	"context"
	"errors"
	"testing"

	"cryptoforum/backend/internal/identity/events"
	"cryptoforum/backend/internal/rpc"
)

const goodPassword = "Str0ng!Passw0rd"

func TestSignUp_PublishesSignedUp(t *testing.T) {
	h := newHarness()
	res, err := h.auth.SignUp(context.Background(), "  Alice@Example.com ", goodPassword, "alice")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.UserID == "" || res.Email != "alice@example.com" {
		t.Fatalf("result = %+v", res)
	}
	pub := h.publisher.published()
	if len(pub) != 1 {
		t.Fatalf("published %d events, want 1", len(pub))
	}
	ev, ok := pub[0].(events.UserSignedUp)
	if !ok || ev.UserID != res.UserID || ev.ConfirmationHash == "" {
		t.Fatalf("event = %#v", pub[0])
	}
	audits := h.publisher.audits()
	if len(audits) != 1 || audits[0].Event != "auth.sign_up" || audits[0].Status != events.StatusSuccess {
		t.Fatalf("audits = %+v", audits)
	}
}

func TestSignUp_Validation(t *testing.T) {
	cases := []struct {
		name, email, password, username string
	}{
		{"no email", "", goodPassword, "alice"},
		{"bad email", "alice@", goodPassword, "alice"},
		{"short password", "a@x.com", "Sh0rt!", "alice"},
		{"no upper", "a@x.com", "str0ng!passw0rd", "alice"},
		{"no symbol", "a@x.com", "Str0ngPassw0rd", "alice"},
		{"no number", "a@x.com", "Strong!Password", "alice"},
		{"short username", "a@x.com", goodPassword, "al"},
	}
	for _, tc := range cases {
		h := newHarness()
		_, err := h.auth.SignUp(context.Background(), tc.email, tc.password, tc.username)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", tc.name, err)
		}
		if len(h.publisher.published()) != 0 {
			t.Errorf("%s: published events on invalid input", tc.name)
		}
		if a := h.publisher.audits(); len(a) != 1 || a[0].Status != events.StatusError {
			t.Errorf("%s: audits = %+v", tc.name, a)
		}
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	h := newHarness()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")
	if _, err := h.auth.SignUp(context.Background(), "a@x.com", goodPassword, "alice"); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestSignUp_PublishRetried(t *testing.T) {
	h := newHarness()
	h.publisher.failures = 2
	if _, err := h.auth.SignUp(context.Background(), "a@x.com", goodPassword, "alice"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if len(h.publisher.published()) != 1 {
		t.Fatal("event not published after retries")
	}
}

func TestSignIn(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")

	pair, err := h.auth.SignIn(ctx, "A@x.com", goodPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if pair.UserID != "u1" {
		t.Errorf("UserID = %q", pair.UserID)
	}
	payload, err := h.auth.Verify(ctx, pair.AccessToken)
	if err != nil || payload.UserID != "u1" || payload.Email != "a@x.com" {
		t.Fatalf("Verify = %+v, %v", payload, err)
	}

	// A second sign-in supersedes the first session.
	again, err := h.auth.SignIn(ctx, "a@x.com", goodPassword)
	if err != nil {
		t.Fatalf("second SignIn: %v", err)
	}
	if n := h.sessions.CountByUser("u1"); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}
	if _, err := h.auth.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("first refresh token: err = %v, want ErrSessionNotFound", err)
	}
	if _, err := h.auth.Refresh(ctx, again.RefreshToken); err != nil {
		t.Errorf("current refresh token: %v", err)
	}
	var signIns int
	for _, a := range h.publisher.audits() {
		if a.Event == "auth.sign_in" && a.Status == events.StatusSuccess && a.UserID == "u1" {
			signIns++
		}
	}
	if signIns != 2 {
		t.Errorf("sign-in audits = %d, want 2", signIns)
	}
}

func TestSignIn_Failures(t *testing.T) {
	h := newHarness()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")
	h.profiles.add("u2", "p@x.com", goodPassword, "pending")
	ctx := context.Background()

	cases := []struct {
		email, password string
		want            error
	}{
		{"a@x.com", "wrong", ErrInvalidCredentials},
		{"nobody@x.com", goodPassword, ErrInvalidCredentials},
		{"", "", ErrInvalidCredentials},
		{"p@x.com", goodPassword, ErrAccountNotConfirmed},
	}
	for _, tc := range cases {
		if _, err := h.auth.SignIn(ctx, tc.email, tc.password); !errors.Is(err, tc.want) {
			t.Errorf("SignIn(%q): err = %v, want %v", tc.email, err, tc.want)
		}
	}
	if n := h.sessions.CountByUser("u1"); n != 0 {
		t.Errorf("failed sign-in created %d sessions", n)
	}
}

func TestSignIn_RetriesTransientProfileErrors(t *testing.T) {
	h := newHarness()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")
	timeout := translateRemote("user.verify_credentials", rpc.ErrTimeout)
	h.profiles.verifyErr = []error{timeout, timeout}

	if _, err := h.auth.SignIn(context.Background(), "a@x.com", goodPassword); err != nil {
		t.Fatalf("SignIn after transient failures: %v", err)
	}

	h.profiles.verifyErr = []error{timeout, timeout, timeout}
	_, err := h.auth.SignIn(context.Background(), "a@x.com", goodPassword)
	if !errors.Is(err, ErrProfileUnavailable) {
		t.Fatalf("err = %v, want ErrProfileUnavailable", err)
	}
}

func TestSignIn_DomainErrorsNotRetried(t *testing.T) {
	h := newHarness()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")
	h.profiles.verifyErr = []error{ErrAccountClosed}
	if _, err := h.auth.SignIn(context.Background(), "a@x.com", goodPassword); !errors.Is(err, ErrAccountClosed) {
		t.Fatalf("err = %v, want ErrAccountClosed", err)
	}
	if len(h.profiles.verifyErr) != 0 {
		t.Fatal("queued error not consumed")
	}
}

func TestLogout(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := h.auth.Logout(ctx, "u1"); err != nil {
			t.Fatalf("Logout #%d: %v", i+1, err)
		}
	}
	pub := h.publisher.published()
	if len(pub) != 2 {
		t.Fatalf("published %d, want 2", len(pub))
	}
	if ev, ok := pub[0].(events.UserLoggedOut); !ok || ev.UserID != "u1" {
		t.Fatalf("event = %#v", pub[0])
	}
	if err := h.auth.Logout(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("anonymous logout: err = %v", err)
	}
}

func TestConfirmAccount(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	res, _ := h.auth.SignUp(ctx, "a@x.com", goodPassword, "alice")
	signedUp := h.publisher.published()[0].(events.UserSignedUp)

	userID, err := h.auth.ConfirmAccount(ctx, signedUp.ConfirmationHash)
	if err != nil || userID != res.UserID {
		t.Fatalf("ConfirmAccount = %q, %v", userID, err)
	}
	pub := h.publisher.published()
	ev, ok := pub[len(pub)-1].(events.AccountConfirmed)
	if !ok || ev.UserID != res.UserID || ev.HashID == "" || ev.HashID == signedUp.ConfirmationHash {
		t.Fatalf("event = %#v", pub[len(pub)-1])
	}
	if _, err := h.auth.ConfirmAccount(ctx, signedUp.ConfirmationHash); !errors.Is(err, ErrInvalidConfirmation) {
		t.Errorf("second confirm: err = %v", err)
	}
	if _, err := h.auth.ConfirmAccount(ctx, " "); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("blank token: err = %v", err)
	}
	if _, err := h.auth.SignIn(ctx, "a@x.com", goodPassword); err != nil {
		t.Errorf("sign-in after confirmation: %v", err)
	}
}

func TestUpdateSettings(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")

	changed, err := h.auth.UpdateSettings(ctx, "u1", map[string]string{
		"email":    "B@x.com",
		"password": "An0ther!Passw0rd",
	})
	if err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if len(changed) != 2 {
		t.Fatalf("changed = %v", changed)
	}
	pub := h.publisher.published()
	ev, ok := pub[0].(events.UserUpdated)
	if !ok {
		t.Fatalf("event = %#v", pub[0])
	}
	if ev.Fields["email"] != "b@x.com" {
		t.Errorf("email field = %q", ev.Fields["email"])
	}
	if v, ok := ev.Fields["password"]; !ok || v != "" {
		t.Errorf("password must be listed without its value, got %q present=%v", v, ok)
	}

	if _, err := h.auth.UpdateSettings(ctx, "u1", map[string]string{"role": "admin"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown field: err = %v", err)
	}
	if _, err := h.auth.UpdateSettings(ctx, "u1", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty update: err = %v", err)
	}

	before := len(h.publisher.published())
	changed, err = h.auth.UpdateSettings(ctx, "u1", map[string]string{"email": "b@x.com"})
	if err != nil || len(changed) != 0 {
		t.Fatalf("no-op update = %v, %v", changed, err)
	}
	if len(h.publisher.published()) != before {
		t.Error("no-op update must not publish")
	}
}

func TestCloseAccount(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.profiles.add("u1", "a@x.com", goodPassword, "active")

	if err := h.auth.CloseAccount(ctx, "u1", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v", err)
	}
	if err := h.auth.CloseAccount(ctx, "u1", goodPassword); err != nil {
		t.Fatalf("CloseAccount: %v", err)
	}
	pub := h.publisher.published()
	if ev, ok := pub[len(pub)-1].(events.AccountClosed); !ok || ev.UserID != "u1" {
		t.Fatalf("event = %#v", pub[len(pub)-1])
	}
	if _, err := h.auth.SignIn(ctx, "a@x.com", goodPassword); !errors.Is(err, ErrAccountClosed) {
		t.Errorf("sign-in after close: err = %v", err)
	}
}
