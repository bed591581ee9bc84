package app

import "testing"

func TestHashPIN_MatchesKnownDigest(t *testing.T) {
	// SHA-256("1234"), the credential form both mobile clients stored.
	const want = "03ac674216f3e15c761ee1a5e255f067953623c8b388b4459e13f978d7c846f4"
	if got := HashPIN("1234"); got != want {
		t.Fatalf("HashPIN(\"1234\") = %q, want %q", got, want)
	}
}

func TestHashPIN_DeterministicAcrossAccounts(t *testing.T) {
	if HashPIN("1234") != HashPIN("1234") {
		t.Fatal("equal PINs must yield equal credentials")
	}
	if HashPIN("1234") == HashPIN("4321") {
		t.Fatal("different PINs must yield different credentials")
	}
}

func TestVerifyPIN(t *testing.T) {
	credential := HashPIN("1234")

	tests := []struct {
		name string
		pin  string
		want bool
	}{
		{name: "correct pin", pin: "1234", want: true},
		{name: "wrong pin", pin: "0000", want: false},
		{name: "empty pin", pin: "", want: false},
		{name: "prefix of pin", pin: "123", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyPIN(tc.pin, credential); got != tc.want {
				t.Fatalf("VerifyPIN(%q) = %v, want %v", tc.pin, got, tc.want)
			}
		})
	}
}
