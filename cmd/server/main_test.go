package main

import (
	"testing"

	"saldopos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "123456"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigRejectsWeakPINs(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	for _, pin := range []string{"123456", "000000", "987654", "777777"} {
		if err := validateSecurityConfig(config.Config{AuthSecret: secret, ManagerPIN: pin}); err == nil {
			t.Fatalf("expected PIN %s to be rejected", pin)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
