package hap

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

const (
	TXTConfigNumber = "c#" // Current configuration number (ex. 1, 2, 3)
	TXTDeviceID     = "id" // Device ID of the accessory (ex. 77:75:87:A0:7D:F4)
	TXTModel        = "md" // Model name of the accessory
	TXTProtoVersion = "pv" // Protocol version string (ex. 1.1)
	TXTStateNumber  = "s#" // Current state number (ex. 1)
	TXTCategory     = "ci" // Accessory Category Identifier (ex. 2, 5, 17)
	TXTSetupHash    = "sh" // Setup hash (ex. Y9w9hQ==)
	TXTFeatureFlags = "ff" // Pairing Feature flags
	TXTStatusFlags  = "sf" // Status flags (ex. 0, 1)

	StatusPaired    = "0" // accessory has at least one pairing
	StatusNotPaired = "1" // accessory accepts Pair-Setup

	// message numbering is a wire contract: six Pair-Setup messages,
	// four Pair-Verify messages, errors reply with the expected state
	StateM1 = 1
	StateM2 = 2
	StateM3 = 3
	StateM4 = 4
	StateM5 = 5
	StateM6 = 6

	MethodPair          = 0
	MethodPairMFi       = 1 // if device has MFI cert
	MethodVerifyPair    = 2
	MethodAddPairing    = 3
	MethodDeletePairing = 4
	MethodListPairings  = 5
)

const (
	PermissionUser  = 0
	PermissionAdmin = 1
)

// GenerateKey returns a new Ed25519 long-term key
// (32 bytes private seed + 32 bytes public)
func GenerateKey() []byte {
	_, key, _ := ed25519.GenerateKey(nil)
	return key
}

// GenerateID returns a stable MAC-like device ID for a name
func GenerateID(name string) string {
	sum := sha512.Sum512([]byte(name))
	return fmt.Sprintf(
		"%02X:%02X:%02X:%02X:%02X:%02X",
		sum[0], sum[1], sum[2], sum[3], sum[4], sum[5],
	)
}

func GenerateUUID() string {
	//12345678-9012-3456-7890-123456789012
	data := make([]byte, 16)
	_, _ = rand.Read(data)
	s := hex.EncodeToString(data)
	return s[:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:]
}

func DecodeKey(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func Append(items ...any) (b []byte) {
	for _, item := range items {
		switch v := item.(type) {
		case string:
			b = append(b, v...)
		case []byte:
			b = append(b, v...)
		default:
			panic(v)
		}
	}
	return
}

func NewResponseError(req, res any) error {
	return fmt.Errorf("hap: wrong response: %#v, on request: %#v", res, req)
}
