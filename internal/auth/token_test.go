package auth

import "testing"

func TestHashAndVerifyToken(t *testing.T) {
	tok, err := NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	hash, err := HashToken(tok)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	if !VerifyToken(hash, tok) {
		t.Fatalf("expected token to verify against its own hash")
	}
	if VerifyToken(hash, tok+"x") {
		t.Fatalf("expected tampered token to fail verification")
	}
}

func TestVerifyTokenRejectsMalformedHash(t *testing.T) {
	if VerifyToken("not-a-hash", "whatever") {
		t.Fatalf("expected malformed hash to fail verification")
	}
	if VerifyToken("$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", "whatever") {
		t.Fatalf("expected non-argon2id hash to fail verification")
	}
}
