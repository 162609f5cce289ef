package detect

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	text := `Victim reported contact from support@fraud-desk.example via
https://invest-now.example/offer. Caller used +1 (415) 555-0132 and asked
for a transfer to wallet 0x52908400098527886E0F7030069857D2E4169EE7.
Server resolved to 203.0.113.7 (AS64500). Payment went to IBAN
GB29NWBK60161331926819.`

	got := Extract(text)

	cases := []struct {
		entityType string
		want       []string
	}{
		{"email", []string{"support@fraud-desk.example"}},
		{"url", []string{"https://invest-now.example/offer."}},
		{"phone", []string{"+1 (415) 555-0132"}},
		{"crypto_wallet", []string{"0x52908400098527886E0F7030069857D2E4169EE7"}},
		{"ip_address", []string{"203.0.113.7"}},
		{"asn", []string{"AS64500"}},
	}
	for _, tc := range cases {
		if !reflect.DeepEqual(got[tc.entityType], tc.want) {
			t.Errorf("%s = %v, want %v", tc.entityType, got[tc.entityType], tc.want)
		}
	}
	if len(got["bank_account"]) == 0 {
		t.Error("bank_account missing IBAN match")
	}
}

func TestExtract_DedupesAndSkipsJunk(t *testing.T) {
	t.Parallel()

	got := Extract("scam@x.example scam@x.example reached from 999.300.1.1")
	if want := []string{"scam@x.example"}; !reflect.DeepEqual(got["email"], want) {
		t.Errorf("email = %v, want %v", got["email"], want)
	}
	if _, ok := got["ip_address"]; ok {
		t.Errorf("invalid IP should not match, got %v", got["ip_address"])
	}
}

func TestExtract_Empty(t *testing.T) {
	t.Parallel()

	if got := Extract("   "); len(got) != 0 {
		t.Errorf("Extract(blank) = %v, want empty", got)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := Entities{"email": {"a@x.example"}}
	b := Entities{"email": {"a@x.example", "b@x.example"}, "asn": {"AS1"}}
	merged := a.Merge(b)

	if want := []string{"a@x.example", "b@x.example"}; !reflect.DeepEqual(merged["email"], want) {
		t.Errorf("email = %v, want %v", merged["email"], want)
	}
	if want := []string{"AS1"}; !reflect.DeepEqual(merged["asn"], want) {
		t.Errorf("asn = %v, want %v", merged["asn"], want)
	}
}
