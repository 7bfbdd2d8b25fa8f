// ABOUTME: Tests for the RPM/TPM request budget
// ABOUTME: Verifies burst admission, clamping of oversized asks and the nil budget
package core

import (
	"context"
	"testing"
	"time"
)

func TestBudget_NilAdmitsEverything(t *testing.T) {
	var b *Budget
	if err := b.Wait(context.Background(), 1<<30); err != nil {
		t.Errorf("nil Budget.Wait() error = %v", err)
	}
}

func TestBudget_TokenBurst(t *testing.T) {
	b := NewBudget(0, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx, 600); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := b.Wait(ctx, 400); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	// The bucket is empty and refills at 1000/60 tokens per second
	if err := b.Wait(ctx, 500); err == nil {
		t.Error("Wait() beyond the minute's tokens should fail before the deadline")
	}
}

func TestBudget_OversizedAskClamped(t *testing.T) {
	b := NewBudget(0, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Larger than the bucket: admitted once the bucket is full instead of failing forever
	if err := b.Wait(ctx, 5000); err != nil {
		t.Errorf("Wait(5000) error = %v, want clamped admission", err)
	}
}

func TestBudget_ZeroTokensSkipsTokenBucket(t *testing.T) {
	b := NewBudget(0, 10)
	for i := 0; i < 100; i++ {
		if err := b.Wait(context.Background(), 0); err != nil {
			t.Fatalf("Wait(0) error = %v", err)
		}
	}
}
