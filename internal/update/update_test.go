package update

import (
	"context"
	"testing"
)

func TestNoopCheckerReturnsNoUpdate(t *testing.T) {
	info, err := NoopChecker{}.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if info != nil {
		t.Errorf("CheckForUpdate = %+v, want nil", info)
	}
}
