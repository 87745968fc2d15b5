package hap

import (
	"testing"

	"github.com/google/uuid"
	"github.com/openhap/hapd/pkg/hap/chacha20poly1305"
	"github.com/openhap/hapd/pkg/hap/ed25519"
	"github.com/openhap/hapd/pkg/hap/hkdf"
	"github.com/openhap/hapd/pkg/hap/srp"
	"github.com/openhap/hapd/pkg/hap/tlv8"
	"github.com/stretchr/testify/require"
)

func testDevice() *Device {
	key := GenerateKey()
	return &Device{
		ID:         GenerateID("test"),
		PublicKey:  key[32:],
		PrivateKey: key,
		PIN:        "123-45-679",
	}
}

func marshalTLV(t *testing.T, v any) []byte {
	b, err := tlv8.Marshal(v)
	require.Nil(t, err)
	return b
}

type setupM2 struct {
	Salt      []byte `tlv8:"2"`
	PublicKey []byte `tlv8:"3"`
	State     byte   `tlv8:"6"`
	Error     byte   `tlv8:"7"`
}

type setupM4 struct {
	Proof []byte `tlv8:"4"`
	State byte   `tlv8:"6"`
	Error byte   `tlv8:"7"`
}

type setupM6 struct {
	EncryptedData []byte `tlv8:"5"`
	State         byte   `tlv8:"6"`
	Error         byte   `tlv8:"7"`
}

type identity struct {
	Identifier string `tlv8:"1"`
	PublicKey  []byte `tlv8:"3"`
	Signature  []byte `tlv8:"10"`
}

// startSetup sends M1 and returns the M2 reply
func startSetup(t *testing.T, ps *PairSetup) (setupM2, *ErrorContainer) {
	b, errc := ps.Handle(marshalTLV(t, struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}{
		Method: MethodPair,
		State:  StateM1,
	}))

	var m2 setupM2
	require.Nil(t, tlv8.Unmarshal(b, &m2))
	return m2, errc
}

// verifySetup runs M1..M4 with the given setup code and returns the SRP
// shared secret on success
func verifySetup(t *testing.T, ps *PairSetup, pin string) ([]byte, setupM4, *ErrorContainer) {
	m2, errc := startSetup(t, ps)
	require.Nil(t, errc)
	require.Equal(t, byte(StateM2), m2.State)
	require.Len(t, m2.Salt, 16)
	require.NotEmpty(t, m2.PublicKey)

	client, err := srp.NewClient(pin)
	require.Nil(t, err)

	shared, err := client.SharedKey(m2.Salt, m2.PublicKey)
	require.Nil(t, err)

	b, errc := ps.Handle(marshalTLV(t, struct {
		PublicKey []byte `tlv8:"3"`
		Proof     []byte `tlv8:"4"`
		State     byte   `tlv8:"6"`
	}{
		PublicKey: client.PublicKey(),
		Proof:     client.Proof(),
		State:     StateM3,
	}))

	var m4 setupM4
	require.Nil(t, tlv8.Unmarshal(b, &m4))

	if errc == nil {
		require.Equal(t, byte(StateM4), m4.State)
		require.True(t, client.VerifyServerProof(m4.Proof))
	}

	return shared, m4, errc
}

// exchangeBody builds the encrypted M5 payload for a controller identity
func exchangeBody(t *testing.T, shared []byte, id string, key []byte) []byte {
	sign, err := hkdf.Sha512(shared, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info")
	require.Nil(t, err)

	signature, err := ed25519.Signature(key, Append(sign, id, key[32:]))
	require.Nil(t, err)

	plain := marshalTLV(t, identity{Identifier: id, PublicKey: key[32:], Signature: signature})

	encryptKey, err := hkdf.Sha512(shared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	require.Nil(t, err)

	enc, err := chacha20poly1305.Encrypt(encryptKey, "PS-Msg05", plain)
	require.Nil(t, err)

	return marshalTLV(t, struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: enc,
		State:         StateM5,
	})
}

func TestPairSetup(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)

	var paired []*Pairing
	ps := NewPairSetup(store, 0, func(p *Pairing) { paired = append(paired, p) })

	shared, _, errc := verifySetup(t, ps, dev.PIN)
	require.Nil(t, errc)

	controllerID := GenerateUUID()
	controllerKey := GenerateKey()

	b, errc := ps.Handle(exchangeBody(t, shared, controllerID, controllerKey))
	require.Nil(t, errc)

	var m6 setupM6
	require.Nil(t, tlv8.Unmarshal(b, &m6))
	require.Equal(t, byte(StateM6), m6.State)

	// decrypt and verify the accessory identity
	encryptKey, err := hkdf.Sha512(shared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	require.Nil(t, err)

	plain, err := chacha20poly1305.Decrypt(encryptKey, "PS-Msg06", m6.EncryptedData)
	require.Nil(t, err)

	var acc identity
	require.Nil(t, tlv8.Unmarshal(plain, &acc))
	require.Equal(t, dev.ID, acc.Identifier)
	require.Equal(t, dev.PublicKey, acc.PublicKey)

	sign, err := hkdf.Sha512(shared, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info")
	require.Nil(t, err)
	require.True(t, ed25519.ValidateSignature(acc.PublicKey, Append(sign, acc.Identifier, acc.PublicKey), acc.Signature))

	// controller is persisted as admin
	p, err := store.Pairing(uuid.MustParse(controllerID))
	require.Nil(t, err)
	require.True(t, p.Admin())
	require.Equal(t, controllerKey[32:], p.PublicKey)

	require.Len(t, paired, 1)
	require.Equal(t, p.ID, paired[0].ID)
}

func TestPairSetupWrongPIN(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)
	ps := NewPairSetup(store, 0, nil)

	shared, m4, errc := verifySetup(t, ps, "876-54-329")
	require.NotNil(t, errc)
	require.Equal(t, ErrorAuthentication, errc.Code)
	require.Equal(t, byte(StateM4), errc.State)
	require.Equal(t, ErrorAuthentication, ErrorCode(m4.Error))

	// failed proof must not advance the session, Exchange stays refused
	_, errc = ps.Handle(exchangeBody(t, shared, GenerateUUID(), GenerateKey()))
	require.NotNil(t, errc)
	require.Equal(t, ErrorUnknown, errc.Code)
	require.Equal(t, byte(StateM6), errc.State)

	n, err := store.CountPairings()
	require.Nil(t, err)
	require.Equal(t, 0, n)
}

func TestPairSetupExchangeWithoutVerify(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)
	ps := NewPairSetup(store, 0, nil)

	m2, errc := startSetup(t, ps)
	require.Nil(t, errc)
	require.Equal(t, byte(StateM2), m2.State)

	// no M3 happened, shared secret does not exist yet
	b, errc := ps.Handle(marshalTLV(t, struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: []byte("garbage garbage garbage"),
		State:         StateM5,
	}))
	require.NotNil(t, errc)
	require.Equal(t, ErrorUnknown, errc.Code)
	require.Equal(t, byte(StateM6), errc.State)

	var m6 setupM6
	require.Nil(t, tlv8.Unmarshal(b, &m6))
	require.Equal(t, byte(StateM6), m6.State)
	require.Equal(t, ErrorUnknown, ErrorCode(m6.Error))

	n, err := store.CountPairings()
	require.Nil(t, err)
	require.Equal(t, 0, n)
}

func TestPairSetupTampered(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)
	ps := NewPairSetup(store, 0, nil)

	shared, _, errc := verifySetup(t, ps, dev.PIN)
	require.Nil(t, errc)

	body := exchangeBody(t, shared, GenerateUUID(), GenerateKey())
	body[len(body)-4] ^= 1 // flip one bit inside the auth tag (state TLV trails)

	_, errc = ps.Handle(body)
	require.NotNil(t, errc)
	require.Equal(t, ErrorAuthentication, errc.Code)
	require.Equal(t, byte(StateM6), errc.State)
}

func TestPairSetupMaxPeers(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)
	require.Nil(t, store.SavePairing(&Pairing{ID: uuid.New(), PublicKey: GenerateKey()[32:]}))

	ps := NewPairSetup(store, 1, nil)

	shared, _, errc := verifySetup(t, ps, dev.PIN)
	require.Nil(t, errc)

	_, errc = ps.Handle(exchangeBody(t, shared, GenerateUUID(), GenerateKey()))
	require.NotNil(t, errc)
	require.Equal(t, ErrorMaxPeers, errc.Code)
	require.Equal(t, byte(StateM6), errc.State)

	n, err := store.CountPairings()
	require.Nil(t, err)
	require.Equal(t, 1, n)
}

func TestPairSetupMaxTries(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)
	ps := NewPairSetup(store, 0, nil)

	// handler failures count, parse failures don't
	bad := marshalTLV(t, struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: []byte("garbage"),
		State:         StateM5,
	})

	for i := 0; i <= maxTries; i++ {
		_, errc := ps.Handle(bad)
		require.NotNil(t, errc)
	}

	m2, errc := startSetup(t, ps)
	require.NotNil(t, errc)
	require.Equal(t, ErrorMaxTries, errc.Code)
	require.Equal(t, byte(StateM2), errc.State)
	require.Equal(t, ErrorMaxTries, ErrorCode(m2.Error))
}

func TestPairSetupRetryAfterFailure(t *testing.T) {
	dev := testDevice()
	store := NewMemoryStore(dev)
	ps := NewPairSetup(store, 0, nil)

	_, _, errc := verifySetup(t, ps, "876-54-329")
	require.NotNil(t, errc)

	// a fresh Start replaces the dead session, full flow succeeds
	shared, _, errc := verifySetup(t, ps, dev.PIN)
	require.Nil(t, errc)

	_, errc = ps.Handle(exchangeBody(t, shared, GenerateUUID(), GenerateKey()))
	require.Nil(t, errc)

	n, err := store.CountPairings()
	require.Nil(t, err)
	require.Equal(t, 1, n)
}
