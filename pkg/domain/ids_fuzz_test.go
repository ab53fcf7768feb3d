//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseSubjectID checks that parsing never panics and that accepted ids
// round-trip and stay within the allowed alphabet.
func FuzzParseSubjectID(f *testing.F) {
	f.Add("")
	f.Add("65a1f0c2e4b0a1b2c3d4e5f6")
	f.Add("'; DROP TABLE face_templates;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSubjectID(input)
		if err != nil {
			return
		}
		if !utf8.ValidString(input) {
			t.Error("non-UTF8 input was accepted")
		}
		roundTrip, err := ParseSubjectID(id.String())
		if err != nil || roundTrip != id {
			t.Errorf("accepted id failed round-trip: %v", err)
		}
	})
}

func FuzzParseChallengeID(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseChallengeID(input)
		if err == nil && id.IsNil() {
			t.Error("nil challenge id was accepted")
		}
	})
}
