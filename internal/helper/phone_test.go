package helper

import "testing"

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"081234567890", "6281234567890", false},
		{"+62 812-3456-7890", "6281234567890", false},
		{"(0812) 3456 789", "628123456789", false},
		{"6281234567890", "6281234567890", false},
		{"", "", true},
		{"abc123", "", true},
		{"12345", "", true},              // too short
		{"1234567890123456", "", true},   // too long
	}

	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizePhone(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhone(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizePhoneCountryCodeOverride(t *testing.T) {
	t.Setenv("DEFAULT_COUNTRY_CODE", "49")

	got, err := NormalizePhone("01701234567")
	if err != nil {
		t.Fatal(err)
	}
	if got != "491701234567" {
		t.Fatalf("got %q", got)
	}
}
