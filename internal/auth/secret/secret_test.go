package secret

import "testing"

func TestHashVerify(t *testing.T) {
	encoded, err := Hash("worker-token")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !Verify("worker-token", encoded) {
		t.Fatalf("expected token to verify")
	}
	if Verify("other-token", encoded) {
		t.Fatalf("expected mismatch")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=4$c2FsdA$a2V5",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$a2V5",
	} {
		if Verify("x", encoded) {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
}
