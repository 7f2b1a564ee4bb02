package domain

import "testing"

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		raw  string
		want PaymentMethod
		ok   bool
	}{
		{raw: "card", want: PaymentCard, ok: true},
		{raw: " PayPal ", want: PaymentPayPal, ok: true},
		{raw: "CRYPTO", want: PaymentCrypto, ok: true},
		{raw: "wire", ok: false},
		{raw: "", ok: false},
	}
	for _, tc := range tests {
		got, ok := ParsePaymentMethod(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParsePaymentMethod(%q) = %q,%v want %q,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPaymentMethodsZeroValueIsAllDisabled(t *testing.T) {
	var methods PaymentMethods
	for _, m := range []PaymentMethod{PaymentCard, PaymentPayPal, PaymentCrypto} {
		if methods.Rail(m).Enabled {
			t.Fatalf("expected %s disabled in zero value", m)
		}
	}
}

func TestUserHasDiscord(t *testing.T) {
	if (User{DiscordID: "  "}).HasDiscord() {
		t.Fatalf("blank discord id should not count as linked")
	}
	if !(User{DiscordID: "123"}).HasDiscord() {
		t.Fatalf("expected linked user")
	}
}
