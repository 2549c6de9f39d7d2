package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		cost     int
		wantErr  bool
	}{
		{name: "minimum length password", password: "secret1", cost: bcrypt.MinCost},
		{name: "configured cost", password: "secret1", cost: 10},
		{name: "72 bytes", password: strings.Repeat("a", 72), cost: bcrypt.MinCost},
		{name: "over bcrypt limit", password: strings.Repeat("a", 73), cost: bcrypt.MinCost, wantErr: true},
		{name: "unicode", password: "пароль密码🔐", cost: bcrypt.MinCost},
		{name: "cost below minimum is raised", password: "secret1", cost: bcrypt.MinCost - 1},
		{name: "cost above maximum", password: "secret1", cost: bcrypt.MaxCost + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password, tt.cost)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !strings.HasPrefix(hash, "$2") {
				t.Errorf("HashPassword() returned invalid bcrypt hash format: %s", hash)
			}
			if strings.Contains(hash, tt.password) {
				t.Error("HashPassword() leaked the plaintext")
			}
			if !VerifyPassword(hash, tt.password) {
				t.Error("HashPassword() produced hash that doesn't verify")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret1", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password for test: %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{name: "correct password", hash: hash, password: "secret1", want: true},
		{name: "wrong password", hash: hash, password: "wrong", want: false},
		{name: "case sensitive", hash: hash, password: "SECRET1", want: false},
		{name: "surrounding spaces are significant", hash: hash, password: " secret1", want: false},
		{name: "empty password", hash: hash, password: "", want: false},
		{name: "invalid hash", hash: "notavalidhash", password: "secret1", want: false},
		{name: "empty hash", hash: "", password: "secret1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashPassword_Salted(t *testing.T) {
	hash1, err := HashPassword("secret1", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("First hash failed: %v", err)
	}
	hash2, err := HashPassword("secret1", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Second hash failed: %v", err)
	}
	if hash1 == hash2 {
		t.Error("HashPassword() produced identical hashes (salt not random)")
	}
}
