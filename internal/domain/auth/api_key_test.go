package auth

import "testing"

func TestConstantTimeEquals(t *testing.T) {
	if !ConstantTimeEquals("secret-token", "secret-token") {
		t.Error("expected matching tokens to compare equal")
	}
	if ConstantTimeEquals("wrong", "secret-token") {
		t.Error("expected mismatched tokens to compare unequal")
	}
	if ConstantTimeEquals("anything", "") {
		t.Error("expected an empty expected token to never match")
	}
}

func TestIsWeakToken(t *testing.T) {
	if !IsWeakToken("short") {
		t.Error("expected a short token to be flagged weak")
	}
	if IsWeakToken("a-sufficiently-long-registration-token") {
		t.Error("expected a long token to not be flagged weak")
	}
}
