package privacy

import (
	"strings"

	"hostpost/internal/constants"
)

// MaskToken masks an access or refresh token showing only the last few
// characters. Example: "EAABsbCS1234567890" -> "**************7890"
func MaskToken(token string) string {
	return maskString(token, constants.DefaultTokenMaskVisible)
}

// MaskAccountRef masks a platform account reference (page ID, author URN,
// user ID) while preserving any URN prefix for debugging.
// Example: "urn:li:person:AbCdEfGh" -> "urn:li:person:****EfGh"
func MaskAccountRef(ref string) string {
	if ref == "" {
		return ""
	}

	if idx := strings.LastIndex(ref, ":"); idx >= 0 {
		return ref[:idx+1] + maskString(ref[idx+1:], constants.DefaultTokenMaskVisible)
	}
	return maskString(ref, constants.DefaultTokenMaskVisible)
}

// MaskTenantID shortens a tenant identifier for log lines.
// Example: "9f1c2d3e-4a5b-..." -> "9f1c2d3e…"
func MaskTenantID(tenantID string) string {
	if len(tenantID) <= constants.DefaultIDMaskLength {
		return tenantID
	}
	return tenantID[:constants.DefaultIDMaskLength] + "…"
}

func maskString(s string, visible int) string {
	if s == "" {
		return ""
	}
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
