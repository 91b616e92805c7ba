package sha256

import "testing"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if again := Sum([]byte("hello world")); again != got {
		t.Fatalf("expected Sum to match Hash, got %s vs %s", again, got)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	data := []byte(`{"missing_doc_ids":["102"]}`)
	if !Verify(data, Sum(data)) {
		t.Fatal("expected digest to verify")
	}
	if Verify(append(data, ' '), Sum(data)) {
		t.Fatal("expected modified payload to fail verification")
	}
}
