package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestPermanentNilStaysNil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestIsPermanentThroughWrapping(t *testing.T) {
	cause := errors.New("rejected")
	err := fmt.Errorf("replay add_animal: %w", Permanent(cause))
	if !IsPermanent(err) {
		t.Fatal("expected wrapped permanent error to be detected")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to stay reachable")
	}
	if err.Error() != "replay add_animal: rejected" {
		t.Fatalf("message = %q", err.Error())
	}
	if IsPermanent(cause) {
		t.Fatal("plain error must not be permanent")
	}
}
