package hap

import (
	"github.com/google/uuid"
	"github.com/openhap/hapd/pkg/hap/chacha20poly1305"
	"github.com/openhap/hapd/pkg/hap/curve25519"
	"github.com/openhap/hapd/pkg/hap/ed25519"
	"github.com/openhap/hapd/pkg/hap/hkdf"
	"github.com/openhap/hapd/pkg/hap/tlv8"
)

// Session is the transport session handed to the connection layer after a
// successful Pair-Verify. SharedSecret is the raw ECDH secret, not the
// derived session key.
type Session struct {
	ControllerID uuid.UUID
	SharedSecret []byte
}

type pairVerifyPayload struct {
	Method        byte   `tlv8:"0"`
	Identifier    string `tlv8:"1"`
	PublicKey     []byte `tlv8:"3"`
	EncryptedData []byte `tlv8:"5"`
	State         byte   `tlv8:"6"`
	Error         byte   `tlv8:"7"`
	Signature     []byte `tlv8:"10"`
}

type verifyStep interface {
	verifyStep()
}

type verifyStart struct {
	publicKey []byte // controller ephemeral Curve25519 public
}

type verifyFinish struct {
	data []byte // ciphertext + 16 byte auth tag
}

func (verifyStart) verifyStep()  {}
func (verifyFinish) verifyStep() {}

// verifySession lives from Start to Finish
type verifySession struct {
	serverPublic     []byte
	controllerPublic []byte
	shared           []byte // raw ECDH secret
	sessionKey       []byte // derived encryption key
}

// PairVerify runs the accessory side of the 4-message session-resume flow.
// One instance per connection, not safe for concurrent use. The sessions
// channel receives the completed transport session exactly once, it must
// have capacity for it.
type PairVerify struct {
	store    Store
	sessions chan<- Session

	session *verifySession
}

func NewPairVerify(store Store, sessions chan<- Session) *PairVerify {
	return &PairVerify{store: store, sessions: sessions}
}

// Handle processes one request body and always produces a reply body, same
// contract as PairSetup.Handle.
func (pv *PairVerify) Handle(body []byte) ([]byte, *ErrorContainer) {
	step, errc := pv.parse(body)
	if errc == nil {
		var res any
		if res, errc = pv.handle(step); errc == nil {
			b, err := tlv8.Marshal(res)
			if err != nil {
				errc = newError(0, ErrorUnknown)
			} else {
				return b, nil
			}
		}
	}

	b, _ := tlv8.Marshal(errc)
	return b, errc
}

func (pv *PairVerify) parse(body []byte) (verifyStep, *ErrorContainer) {
	var p pairVerifyPayload
	if err := tlv8.Unmarshal(body, &p); err != nil {
		return nil, newError(0, ErrorUnknown)
	}

	switch p.State {
	case StateM1:
		if len(p.PublicKey) == 0 {
			return nil, newError(StateM2, ErrorUnknown)
		}
		return verifyStart{publicKey: p.PublicKey}, nil

	case StateM3:
		if len(p.EncryptedData) == 0 {
			return nil, newError(StateM4, ErrorUnknown)
		}
		return verifyFinish{data: p.EncryptedData}, nil
	}

	return nil, newError(0, ErrorUnknown)
}

func (pv *PairVerify) handle(step verifyStep) (any, *ErrorContainer) {
	switch step := step.(type) {
	case verifyStart:
		return pv.start(step)
	case verifyFinish:
		return pv.finish(step)
	}
	return nil, newError(0, ErrorUnknown)
}

// start handles M1 and answers M2 with the server ephemeral public value
// and the encrypted, signed accessory identity
func (pv *PairVerify) start(step verifyStart) (any, *ErrorContainer) {
	serverPublic, serverPrivate := curve25519.GenerateKeyPair()

	shared, err := curve25519.SharedSecret(serverPrivate, step.publicKey)
	if err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	dev, err := pv.store.Device()
	if err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	b := Append(serverPublic, dev.ID, step.publicKey)
	signature, err := ed25519.Signature(dev.PrivateKey, b)
	if err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	sub := struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: dev.ID,
		Signature:  signature,
	}
	if b, err = tlv8.Marshal(sub); err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	sessionKey, err := hkdf.Sha512(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	if b, err = chacha20poly1305.Encrypt(sessionKey, "PV-Msg02", b); err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	pv.session = &verifySession{
		serverPublic:     serverPublic,
		controllerPublic: step.publicKey,
		shared:           shared,
		sessionKey:       sessionKey,
	}

	return &struct {
		PublicKey     []byte `tlv8:"3"`
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		PublicKey:     serverPublic,
		EncryptedData: b,
		State:         StateM2,
	}, nil
}

// finish handles M3: authenticates the returning controller against its
// stored pairing and hands the transport session over, exactly once
func (pv *PairVerify) finish(step verifyFinish) (any, *ErrorContainer) {
	s := pv.session
	if s == nil {
		return nil, newError(StateM4, ErrorUnknown)
	}

	b, err := chacha20poly1305.Decrypt(s.sessionKey, "PV-Msg03", step.data)
	if err != nil {
		return nil, newError(StateM4, ErrorAuthentication)
	}

	var plain struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plain); err != nil {
		return nil, newError(StateM4, ErrorUnknown)
	}
	if plain.Identifier == "" || len(plain.Signature) == 0 {
		return nil, newError(StateM4, ErrorUnknown)
	}

	id, err := uuid.Parse(plain.Identifier)
	if err != nil {
		return nil, newError(StateM4, ErrorUnknown)
	}

	// unknown controller and wrong signature are different failures
	pairing, err := pv.store.Pairing(id)
	if err != nil {
		return nil, newError(StateM4, ErrorUnknown)
	}

	b = Append(s.controllerPublic, plain.Identifier, s.serverPublic)
	if !ed25519.ValidateSignature(pairing.PublicKey, b, plain.Signature) {
		return nil, newError(StateM4, ErrorAuthentication)
	}

	// second Finish would be a duplicate hand-off
	if pv.sessions == nil {
		return nil, newError(StateM4, ErrorUnknown)
	}
	pv.sessions <- Session{ControllerID: id, SharedSecret: s.shared}
	pv.sessions = nil

	return &struct {
		State byte `tlv8:"6"`
	}{
		State: StateM4,
	}, nil
}
