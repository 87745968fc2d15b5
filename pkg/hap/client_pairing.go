package hap

import (
	"bufio"
	"errors"
	"net"

	"github.com/openhap/hapd/pkg/hap/chacha20poly1305"
	"github.com/openhap/hapd/pkg/hap/ed25519"
	"github.com/openhap/hapd/pkg/hap/hkdf"
	"github.com/openhap/hapd/pkg/hap/mdns"
	"github.com/openhap/hapd/pkg/hap/setuppin"
	"github.com/openhap/hapd/pkg/hap/srp"
	"github.com/openhap/hapd/pkg/hap/tlv8"
)

// Pair discovers the accessory via mDNS and runs Pair-Setup with a fresh
// controller identity.
func Pair(deviceID, pin string) (*Client, error) {
	addr := mdns.GetAddress(deviceID)
	if addr == "" {
		return nil, errors.New("hap: can't find device via mDNS")
	}

	c := &Client{
		DeviceAddress: addr,
		DeviceID:      deviceID,
		ClientID:      GenerateUUID(),
		ClientPrivate: GenerateKey(),
	}

	return c, c.Pair(pin)
}

// Pair runs the 6-message Pair-Setup flow against the accessory.
func (c *Client) Pair(pin string) (err error) {
	if pin, err = setuppin.Format(pin); err != nil {
		return
	}

	c.conn, err = net.DialTimeout("tcp", c.DeviceAddress, ConnDialTimeout)
	if err != nil {
		return
	}

	c.reader = bufio.NewReader(c.conn)

	// STEP M1. Send HELLO
	plainM1 := struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}{
		Method: MethodPair,
		State:  StateM1,
	}
	res, err := c.Post(PathPairSetup, MimeTLV8, tlv8.MarshalReader(plainM1))
	if err != nil {
		return
	}

	// STEP M2. Read Device salt and session public key
	var plainM2 struct {
		Salt      []byte `tlv8:"2"`
		PublicKey []byte `tlv8:"3"` // server public key, aka session.B
		State     byte   `tlv8:"6"`
		Error     byte   `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &plainM2); err != nil {
		return
	}
	if plainM2.State != StateM2 {
		return NewResponseError(plainM1, plainM2)
	}
	if plainM2.Error != 0 {
		return newPairingError(plainM2.Error)
	}

	// STEP M3. Generate SRP session using pin
	session, err := srp.NewClient(pin)
	if err != nil {
		return
	}

	sessionShared, err := session.SharedKey(plainM2.Salt, plainM2.PublicKey)
	if err != nil {
		return
	}

	plainM3 := struct {
		PublicKey []byte `tlv8:"3"` // client public key, aka session.A
		Proof     []byte `tlv8:"4"`
		State     byte   `tlv8:"6"`
	}{
		PublicKey: session.PublicKey(),
		Proof:     session.Proof(),
		State:     StateM3,
	}
	if res, err = c.Post(PathPairSetup, MimeTLV8, tlv8.MarshalReader(plainM3)); err != nil {
		return
	}

	// STEP M4. Read and verify server proof
	var plainM4 struct {
		Proof []byte `tlv8:"4"`
		State byte   `tlv8:"6"`
		Error byte   `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &plainM4); err != nil {
		return
	}
	if plainM4.State != StateM4 {
		return NewResponseError(plainM3, plainM4)
	}
	if plainM4.Error != 0 {
		return newPairingError(plainM4.Error)
	}

	if !session.VerifyServerProof(plainM4.Proof) {
		return errors.New("hap: wrong server proof")
	}

	// STEP M5. Generate signature
	localSign, err := hkdf.Sha512(
		sessionShared, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info",
	)
	if err != nil {
		return
	}

	b := Append(localSign, c.ClientID, c.ClientPublic())
	signature, err := ed25519.Signature(c.ClientPrivate, b)
	if err != nil {
		return
	}

	// STEP M5. Generate and encrypt payload
	plainM5 := struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: c.ClientID,
		PublicKey:  c.ClientPublic(),
		Signature:  signature,
	}
	if b, err = tlv8.Marshal(plainM5); err != nil {
		return
	}

	encryptKey, err := hkdf.Sha512(
		sessionShared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info",
	)
	if err != nil {
		return
	}

	if b, err = chacha20poly1305.Encrypt(encryptKey, "PS-Msg05", b); err != nil {
		return
	}

	cipherM5 := struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: b,
		State:         StateM5,
	}
	if res, err = c.Post(PathPairSetup, MimeTLV8, tlv8.MarshalReader(cipherM5)); err != nil {
		return
	}

	// STEP M6. Read response
	var cipherM6 struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
		Error         byte   `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &cipherM6); err != nil {
		return
	}
	if cipherM6.Error != 0 {
		return newPairingError(cipherM6.Error)
	}
	if cipherM6.State != StateM6 {
		return NewResponseError(cipherM5, cipherM6)
	}

	// STEP M6. Decrypt and verify accessory identity
	if b, err = chacha20poly1305.Decrypt(encryptKey, "PS-Msg06", cipherM6.EncryptedData); err != nil {
		return
	}

	var plainM6 struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plainM6); err != nil {
		return
	}

	remoteSign, err := hkdf.Sha512(
		sessionShared, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info",
	)
	if err != nil {
		return
	}

	b = Append(remoteSign, plainM6.Identifier, plainM6.PublicKey)
	if !ed25519.ValidateSignature(plainM6.PublicKey, b, plainM6.Signature) {
		return errors.New("hap: wrong accessory signature")
	}

	if c.DeviceID != "" && c.DeviceID != plainM6.Identifier {
		return errors.New("hap: wrong device ID: " + plainM6.Identifier)
	}

	c.DeviceID = plainM6.Identifier
	c.DevicePublic = plainM6.PublicKey

	return nil
}

func (c *Client) ListPairings() error {
	plainM1 := struct {
		Method byte `tlv8:"0"`
		State  byte `tlv8:"6"`
	}{
		Method: MethodListPairings,
		State:  StateM1,
	}
	res, err := c.Post(PathPairings, MimeTLV8, tlv8.MarshalReader(plainM1))
	if err != nil {
		return err
	}

	var plainM2 struct {
		State byte `tlv8:"6"`
		Error byte `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &plainM2); err != nil {
		return err
	}
	if plainM2.State != StateM2 || plainM2.Error != 0 {
		return NewResponseError(plainM1, plainM2)
	}

	return nil
}

func (c *Client) PairingsAdd(clientID string, clientPublic []byte, admin bool) error {
	plainM1 := struct {
		Method     byte   `tlv8:"0"`
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		State      byte   `tlv8:"6"`
		Permission byte   `tlv8:"11"`
	}{
		Method:     MethodAddPairing,
		Identifier: clientID,
		PublicKey:  clientPublic,
		State:      StateM1,
	}
	if admin {
		plainM1.Permission = PermissionAdmin
	}
	res, err := c.Post(PathPairings, MimeTLV8, tlv8.MarshalReader(plainM1))
	if err != nil {
		return err
	}

	var plainM2 struct {
		State byte `tlv8:"6"`
		Error byte `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &plainM2); err != nil {
		return err
	}
	if plainM2.State != StateM2 || plainM2.Error != 0 {
		return NewResponseError(plainM1, plainM2)
	}

	return nil
}

func (c *Client) DeletePairing(id string) error {
	plainM1 := struct {
		Method     byte   `tlv8:"0"`
		Identifier string `tlv8:"1"`
		State      byte   `tlv8:"6"`
	}{
		Method:     MethodDeletePairing,
		Identifier: id,
		State:      StateM1,
	}
	res, err := c.Post(PathPairings, MimeTLV8, tlv8.MarshalReader(plainM1))
	if err != nil {
		return err
	}

	var plainM2 struct {
		State byte `tlv8:"6"`
		Error byte `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &plainM2); err != nil {
		return err
	}
	if plainM2.State != StateM2 || plainM2.Error != 0 {
		return NewResponseError(plainM1, plainM2)
	}

	return nil
}

func newPairingError(code byte) error {
	// https://github.com/apple/HomeKitADK/blob/master/HAP/HAPPairing.h
	switch ErrorCode(code) {
	case ErrorAuthentication:
		return errors.New("hap: setup code or signature verification failed")
	case ErrorBackoff:
		return errors.New("hap: must wait before retrying")
	case ErrorMaxPeers:
		return errors.New("hap: server cannot accept any more pairings")
	case ErrorMaxTries:
		return errors.New("hap: maximum number of authentication attempts reached")
	case ErrorUnavailable:
		return errors.New("hap: pairing method is unavailable")
	case ErrorBusy:
		return errors.New("hap: server is busy, retry later")
	}
	return errors.New("hap: unknown pairing error")
}
