package auth

import (
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("empty hash must never match")
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"six characters", "abcdef", nil},
		{"too short", "abc12", ErrPasswordTooShort},
		{"blank", "      ", ErrPasswordBlank},
		{"too long", strings.Repeat("a", 73), ErrPasswordTooLong},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidatePassword(tc.password); err != tc.wantErr {
				t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, err, tc.wantErr)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"ada", "monet_1840", "j.m.w.turner"}
	for _, name := range valid {
		if err := ValidateUsername(name); err != nil {
			t.Fatalf("expected %q to be valid, got %v", name, err)
		}
	}
	if err := ValidateUsername("ab"); err != ErrUsernameLength {
		t.Fatalf("short username err = %v", err)
	}
	if err := ValidateUsername(strings.Repeat("a", 31)); err != ErrUsernameLength {
		t.Fatalf("long username err = %v", err)
	}
	if err := ValidateUsername("has space"); err != ErrUsernameCharset {
		t.Fatalf("charset err = %v", err)
	}
}
