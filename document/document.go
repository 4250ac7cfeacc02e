/*
Package document validates national identification numbers (CPF).

A CPF is eleven digits, the last two being check digits computed with a
weighted modulo-11 checksum over the preceding digits. Validation is a
pure function: deterministic for every input, malformed ones included,
and never fails - it just returns false.

Formatting characters '.', '/', '-' and '_' are ignored, so both
"187.958.930-32" and "18795893032" validate.
*/
package document

const cpfLength = 11

// Valid reports whether s is an arithmetically valid CPF.
func Valid(s string) bool {
	digits := make([]int, 0, cpfLength)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == '.' || r == '/' || r == '-' || r == '_':
			// formatting, ignored
		default:
			return false
		}
	}

	if len(digits) != cpfLength {
		return false
	}
	// Repeated-digit sequences like 111.111.111-11 satisfy the checksum
	// but are not issued.
	if allSame(digits) {
		return false
	}

	return digits[9] == checkDigit(digits[:9]) &&
		digits[10] == checkDigit(digits[:10])
}

// checkDigit computes the check digit over ds with weights len(ds)+1
// down to 2. A remainder of 10 maps to 0.
func checkDigit(ds []int) int {
	weight := len(ds) + 1
	sum := 0
	for _, d := range ds {
		sum += d * weight
		weight--
	}
	r := sum * 10 % 11
	if r == 10 {
		return 0
	}
	return r
}

func allSame(ds []int) bool {
	for _, d := range ds[1:] {
		if d != ds[0] {
			return false
		}
	}
	return true
}
