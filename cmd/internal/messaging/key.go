package messaging

import "strconv"

// ResolveKey returns the canonical conversation key for two users and an optional subject.
//
// The smaller id always comes first, so ResolveKey(a, b, s) == ResolveKey(b, a, s).
// A nil subject yields "{min}_{max}"; a subject yields "{min}_{max}_{subject}".
// Ids <= 0 are treated as missing; a non-nil subject must be positive.
func ResolveKey(a, b int64, subject *int64) (string, error) {
	switch {
	case a <= 0 && b <= 0:
		return "", invalid("missing_participants", "both participant ids are missing")
	case a <= 0 || b <= 0:
		return "", invalid("missing_participant", "participant id is missing")
	case a == b:
		return "", invalid("self_message", "a user cannot converse with themselves")
	case subject != nil && *subject <= 0:
		return "", invalid("invalid_subject", "subject id must be positive")
	}
	if a > b {
		a, b = b, a
	}

	buf := make([]byte, 0, 48)
	buf = strconv.AppendInt(buf, a, 10)
	buf = append(buf, '_')
	buf = strconv.AppendInt(buf, b, 10)
	if subject != nil {
		buf = append(buf, '_')
		buf = strconv.AppendInt(buf, *subject, 10)
	}
	return string(buf), nil
}
