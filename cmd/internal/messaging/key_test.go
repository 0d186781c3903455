package messaging

import (
	"errors"
	"testing"
)

func ptr(v int64) *int64 { return &v }

func TestResolveKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		a, b    int64
		subject *int64
		want    string
		reason  string
	}{
		{name: "ordered", a: 1, b: 3, want: "1_3"},
		{name: "reversed", a: 3, b: 1, want: "1_3"},
		{name: "subject", a: 3, b: 1, subject: ptr(100), want: "1_3_100"},
		{name: "zero subject", a: 1, b: 3, subject: ptr(0), reason: "invalid_subject"},
		{name: "negative subject", a: 1, b: 3, subject: ptr(-9), reason: "invalid_subject"},
		{name: "large ids compare numerically", a: 10, b: 9, want: "9_10"},
		{name: "both missing", a: 0, b: 0, reason: "missing_participants"},
		{name: "one missing", a: 5, b: 0, reason: "missing_participant"},
		{name: "negative", a: -1, b: 4, reason: "missing_participant"},
		{name: "self", a: 7, b: 7, reason: "self_message"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ResolveKey(tc.a, tc.b, tc.subject)
			if tc.reason != "" {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got=%v", err)
				}
				if Reason(err) != tc.reason {
					t.Fatalf("reason: got=%q want=%q", Reason(err), tc.reason)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("key: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestResolveKey_Determinism(t *testing.T) {
	t.Parallel()

	subjects := []*int64{nil, ptr(1), ptr(2), ptr(100), ptr(200)}
	for a := int64(1); a <= 6; a++ {
		for b := int64(1); b <= 6; b++ {
			if a == b {
				continue
			}
			seen := make(map[string]bool, len(subjects))
			for _, s := range subjects {
				ab, err := ResolveKey(a, b, s)
				if err != nil {
					t.Fatalf("ResolveKey(%d,%d): %v", a, b, err)
				}
				ba, err := ResolveKey(b, a, s)
				if err != nil {
					t.Fatalf("ResolveKey(%d,%d): %v", b, a, err)
				}
				if ab != ba {
					t.Fatalf("order dependence: %q vs %q", ab, ba)
				}
				if seen[ab] {
					t.Fatalf("subject collision for key %q", ab)
				}
				seen[ab] = true
			}
		}
	}
}
