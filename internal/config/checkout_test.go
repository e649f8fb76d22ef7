package config

import "testing"

func TestCheckoutURLs(t *testing.T) {
	cfg := CheckoutConfig{
		AppURL:     "https://fortuna.example/",
		ReturnPath: "/payment/success",
		CancelPath: "payment/cancel",
	}

	if got, want := cfg.ReturnURL("42"), "https://fortuna.example/payment/success?transaction_id=42"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got, want := cfg.CancelURL("42"), "https://fortuna.example/payment/cancel?transaction_id=42"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestValidateCheckoutConfig(t *testing.T) {
	if err := validateCheckoutConfig(DefaultCheckoutConfig()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	bad := DefaultCheckoutConfig()
	bad.AppURL = "not a url"
	if err := validateCheckoutConfig(bad); err == nil {
		t.Fatalf("expected relative app url to be rejected")
	}

	bad = DefaultCheckoutConfig()
	bad.CancelPath = " "
	if err := validateCheckoutConfig(bad); err == nil {
		t.Fatalf("expected empty cancel path to be rejected")
	}
}

func TestStaticHolder(t *testing.T) {
	holder := NewStaticCheckoutConfigHolder(DefaultCheckoutConfig())
	if !holder.Get().GrantTrialOnProvision {
		t.Fatalf("expected default trial grant to be enabled")
	}
}
