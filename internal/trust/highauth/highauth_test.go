package highauth

import (
	"testing"
	"time"

	"github.com/asgard/aegis/internal/trust"
)

func TestIssueRestrictedRequiresVerifiedOperator(t *testing.T) {
	authority, err := trust.GenerateAuthority()
	if err != nil {
		t.Fatalf("generate authority: %v", err)
	}
	gate, err := NewGate(authority, nil)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	now := time.Now()
	policy := trust.Policy{
		Topics:    []string{"*"},
		Regions:   []string{"restricted"},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(time.Hour),
	}

	if _, err := gate.IssueRestricted(policy, false); err != ErrHardwareAuthRequired {
		t.Fatalf("expected ErrHardwareAuthRequired, got %v", err)
	}

	if _, err := gate.IssueRestricted(policy, true); err != nil {
		t.Fatalf("expected issuance to succeed with verified operator, got %v", err)
	}
}

func TestIssueUnrestrictedDoesNotRequireOperator(t *testing.T) {
	authority, _ := trust.GenerateAuthority()
	gate, _ := NewGate(authority, nil)

	now := time.Now()
	policy := trust.Policy{
		Topics:    []string{"*"},
		Regions:   []string{"zone_A"},
		NotBefore: now.Add(-time.Minute),
		NotAfter:  now.Add(time.Hour),
	}

	if _, err := gate.IssueRestricted(policy, false); err != nil {
		t.Fatalf("expected unrestricted issuance to succeed, got %v", err)
	}
}
