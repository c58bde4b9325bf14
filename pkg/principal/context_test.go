package principal

import (
	"context"
	"testing"
)

func TestNewContext_RoundTrip(t *testing.T) {
	p, err := NewPrincipal("auth0|carol", "google", "carol@example.com")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}

	ctx := NewContext(context.Background(), p)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext() ok = false, want true")
	}
	if got != p {
		t.Errorf("FromContext() = %+v, want the stored principal", got)
	}
}

func TestFromContext_Empty(t *testing.T) {
	got, ok := FromContext(context.Background())
	if ok {
		t.Error("FromContext() ok = true on empty context, want false")
	}
	if got != nil {
		t.Errorf("FromContext() = %+v on empty context, want nil", got)
	}
}

func TestMustFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext() did not panic on a context without a principal")
		}
	}()
	MustFromContext(context.Background())
}

func TestMustFromContext_Returns(t *testing.T) {
	p, err := NewPrincipal("auth0|dave", "", "")
	if err != nil {
		t.Fatalf("NewPrincipal() error: %v", err)
	}
	ctx := NewContext(context.Background(), p)

	got := MustFromContext(ctx)
	if got != p {
		t.Errorf("MustFromContext() = %+v, want the stored principal", got)
	}
}
