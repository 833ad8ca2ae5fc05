package email

import "regexp"

var addressPattern = regexp.MustCompile(`[\p{L}\p{N}_.-]+@[\p{L}\p{N}_.-]+\.[\p{L}\p{N}_]+`)

// ExtractAddress returns the first email address found in value.
// ok is false when value holds no address; that is not an error.
func ExtractAddress(value string) (addr string, ok bool) {
	if value == "" {
		return "", false
	}
	addr = addressPattern.FindString(value)
	return addr, addr != ""
}
