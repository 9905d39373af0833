package recognizer

// validateIBAN confirms a regex candidate with the ISO 13616 mod-97 check.
// Candidates that pass get full confidence; candidates that fail the
// checksum are dropped (they are format lookalikes, not account numbers).
func validateIBAN(candidate string) (float64, bool) {
	if len(candidate) < 15 || len(candidate) > 34 {
		return 0, false
	}
	if mod97(rearrangeIBAN(candidate)) != 1 {
		return 0, false
	}
	return 1.0, true
}

// rearrangeIBAN moves the country code and check digits to the end and
// expands letters to numbers (A=10 .. Z=35), per ISO 13616.
func rearrangeIBAN(iban string) string {
	s := iban[4:] + iban[:4]
	buf := make([]byte, 0, len(s)*2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			buf = append(buf, c)
		case c >= 'A' && c <= 'Z':
			n := c - 'A' + 10
			buf = append(buf, '0'+n/10, '0'+n%10)
		default:
			return "" // mod97("") != 1, rejects the candidate
		}
	}
	return string(buf)
}

// mod97 computes the decimal string modulo 97 without big integers.
func mod97(digits string) int {
	if digits == "" {
		return 0
	}
	rem := 0
	for i := 0; i < len(digits); i++ {
		rem = (rem*10 + int(digits[i]-'0')) % 97
	}
	return rem
}
