package utils

// MaskSecret keeps the first four characters of s. Empty input stays empty.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
