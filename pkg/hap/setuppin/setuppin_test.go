package setuppin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.Nil(t, Validate("123-45-679"))
	require.Nil(t, Validate("12345679"))

	require.Equal(t, ErrInvalidPIN, Validate(""))
	require.Equal(t, ErrInvalidPIN, Validate("1234567"))
	require.Equal(t, ErrInvalidPIN, Validate("123456789"))
	require.Equal(t, ErrInvalidPIN, Validate("1234567a"))

	// trivial codes are forbidden
	require.Equal(t, ErrInvalidPIN, Validate("12345678"))
	require.Equal(t, ErrInvalidPIN, Validate("000-00-000"))
	require.Equal(t, ErrInvalidPIN, Validate("876-54-321"))
	require.Equal(t, ErrInvalidPIN, Validate("11111111"))
}

func TestFormat(t *testing.T) {
	pin, err := Format("12345679")
	require.Nil(t, err)
	require.Equal(t, "123-45-679", pin)

	pin, err = Format("123-45-679")
	require.Nil(t, err)
	require.Equal(t, "123-45-679", pin)

	_, err = Format("12345678")
	require.Equal(t, ErrInvalidPIN, err)
}

func TestGenerateSetupURI(t *testing.T) {
	uri := GenerateSetupURI("2", "123-45-679", "HAPD")
	require.Equal(t, "X-HM://", uri[:7])
	require.Equal(t, "HAPD", uri[len(uri)-4:])
	require.Len(t, uri, 7+9+4)
}

func TestFormatInt36(t *testing.T) {
	require.Equal(t, "00Z", FormatInt36(35, 3))
	require.Equal(t, "010", FormatInt36(36, 3))
}
