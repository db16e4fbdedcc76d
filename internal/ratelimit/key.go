package ratelimit

import (
	"strconv"
	"strings"
)

// KeyForDecision builds the limiter key "<scope>:<subject>" for the resolved
// decision. Requests without a user are keyed by client address.
func KeyForDecision(userID uint64, clientIP string, decision Decision) string {
	if decision.Limit <= 0 || decision.Scope == ScopeNone {
		return ""
	}
	var subject string
	switch ip := strings.TrimSpace(clientIP); {
	case userID != 0:
		subject = "u:" + strconv.FormatUint(userID, 10)
	case ip != "":
		subject = "ip:" + ip
	default:
		return ""
	}
	return decision.Scope.String() + ":" + subject
}
