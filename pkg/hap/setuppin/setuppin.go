// Package setuppin validates accessory setup codes and builds X-HM setup
// payloads.
package setuppin

import (
	"errors"
	"strconv"
	"strings"
)

const (
	FlagNFC = 1
	FlagIP  = 2
	FlagBLE = 4
	FlagWAC = 8 // Wireless Accessory Configuration (WAC)/Apples MFi
)

// codes Apple forbids as setup PINs
var invalid = []string{
	"00000000", "11111111", "22222222", "33333333", "44444444",
	"55555555", "66666666", "77777777", "88888888", "99999999",
	"12345678", "87654321",
}

var ErrInvalidPIN = errors.New("setuppin: invalid PIN")

// Validate accepts 8 digits with optional dashes, rejecting the trivial
// codes above.
func Validate(pin string) error {
	digits := strings.ReplaceAll(pin, "-", "")
	if len(digits) != 8 {
		return ErrInvalidPIN
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return ErrInvalidPIN
		}
	}
	for _, s := range invalid {
		if digits == s {
			return ErrInvalidPIN
		}
	}
	return nil
}

// Format returns the canonical 123-45-678 form.
func Format(pin string) (string, error) {
	if err := Validate(pin); err != nil {
		return "", err
	}
	digits := strings.ReplaceAll(pin, "-", "")
	return digits[:3] + "-" + digits[3:5] + "-" + digits[5:], nil
}

func GenerateSetupURI(category, pin, setupID string) string {
	c, _ := strconv.Atoi(category)
	p, _ := strconv.Atoi(strings.ReplaceAll(pin, "-", ""))
	payload := int64(c&0xFF)<<31 | int64(FlagIP&0xF)<<27 | int64(p&0x7FFFFFF)
	return "X-HM://" + FormatInt36(payload, 9) + setupID
}

// FormatInt36 equal to strings.ToUpper(fmt.Sprintf("%0"+strconv.Itoa(n)+"s", strconv.FormatInt(value, 36)))
func FormatInt36(value int64, n int) string {
	b := make([]byte, n)
	for i := n - 1; 0 <= i; i-- {
		b[i] = digits[value%36]
		value /= 36
	}
	return string(b)
}

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
