package auth

import (
	"testing"
	"time"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "s3cret") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected mismatch for wrong password")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := SignJWT("admin", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	subject, err := ParseJWT(token, "test-secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("unexpected subject: %q", subject)
	}
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := SignJWT("admin", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "other-secret"); err == nil {
		t.Fatalf("expected invalid token error")
	}
}

func TestJWT_Expired(t *testing.T) {
	token, err := SignJWT("admin", "test-secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(token, "test-secret"); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
