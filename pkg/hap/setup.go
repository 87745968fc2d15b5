package hap

import (
	"github.com/google/uuid"
	"github.com/openhap/hapd/pkg/hap/chacha20poly1305"
	"github.com/openhap/hapd/pkg/hap/ed25519"
	"github.com/openhap/hapd/pkg/hap/hkdf"
	"github.com/openhap/hapd/pkg/hap/srp"
	"github.com/openhap/hapd/pkg/hap/tlv8"
)

// maxTries is the ceiling of consecutive failed steps, after which Start is
// refused with MaxTries
const maxTries = 99

// pairSetupPayload covers every TLV item a controller may send during
// Pair-Setup, unused items stay zero
type pairSetupPayload struct {
	Method        byte   `tlv8:"0"`
	Identifier    string `tlv8:"1"`
	Salt          []byte `tlv8:"2"`
	PublicKey     []byte `tlv8:"3"`
	Proof         []byte `tlv8:"4"`
	EncryptedData []byte `tlv8:"5"`
	State         byte   `tlv8:"6"`
	Error         byte   `tlv8:"7"`
	RetryDelay    byte   `tlv8:"8"`
	Certificate   []byte `tlv8:"9"`
	Signature     []byte `tlv8:"10"`
	Permissions   byte   `tlv8:"11"`
	FragmentData  []byte `tlv8:"13"`
	FragmentLast  []byte `tlv8:"14"`
	Flags         uint32 `tlv8:"19"`
}

// one variant per wire message shape
type setupStep interface {
	setupStep()
}

type setupStart struct {
	method byte
}

type setupVerify struct {
	publicKey []byte // A
	proof     []byte // M1
}

type setupExchange struct {
	data []byte // ciphertext + 16 byte auth tag
}

func (setupStart) setupStep()    {}
func (setupVerify) setupStep()   {}
func (setupExchange) setupStep() {}

// setupSession lives from a successful Start until the handler is dropped
// or the next Start replaces it. Salt, verifier and the server ephemeral
// exponent live inside the SRP server, the shared secret is added by Verify.
type setupSession struct {
	srp    *srp.Server
	shared []byte // K
}

// PairSetup runs the accessory side of the 6-message SRP pairing flow.
// One instance per connection, not safe for concurrent use.
type PairSetup struct {
	store    Store
	maxPeers int // 0 = unlimited
	onPaired func(*Pairing)

	session *setupSession
	tries   uint8
}

func NewPairSetup(store Store, maxPeers int, onPaired func(*Pairing)) *PairSetup {
	return &PairSetup{store: store, maxPeers: maxPeers, onPaired: onPaired}
}

// Handle processes one request body and always produces a reply body. The
// returned ErrorContainer is nil on success and already encoded into the
// reply otherwise. A failed step only increments the retry counter, it
// never touches the session of another step.
func (ps *PairSetup) Handle(body []byte) ([]byte, *ErrorContainer) {
	step, errc := ps.parse(body)
	if errc == nil {
		var res any
		if res, errc = ps.handle(step); errc == nil {
			ps.tries = 0
			b, err := tlv8.Marshal(res)
			if err != nil {
				errc = newError(0, ErrorUnknown)
			} else {
				return b, nil
			}
		}
		ps.tries++
	}

	b, _ := tlv8.Marshal(errc)
	return b, errc
}

// parse extracts the step variant. Missing required items and unrecognized
// state codes fail with the state code of the reply the client is waiting
// for, 0 when even that is unknown.
func (ps *PairSetup) parse(body []byte) (setupStep, *ErrorContainer) {
	var p pairSetupPayload
	if err := tlv8.Unmarshal(body, &p); err != nil {
		return nil, newError(0, ErrorUnknown)
	}

	switch p.State {
	case StateM1:
		return setupStart{method: p.Method}, nil

	case StateM3:
		if len(p.PublicKey) == 0 || len(p.Proof) == 0 {
			return nil, newError(StateM4, ErrorUnknown)
		}
		return setupVerify{publicKey: p.PublicKey, proof: p.Proof}, nil

	case StateM5:
		if len(p.EncryptedData) == 0 {
			return nil, newError(StateM6, ErrorUnknown)
		}
		return setupExchange{data: p.EncryptedData}, nil
	}

	return nil, newError(0, ErrorUnknown)
}

func (ps *PairSetup) handle(step setupStep) (any, *ErrorContainer) {
	switch step := step.(type) {
	case setupStart:
		return ps.start(step)
	case setupVerify:
		return ps.verify(step)
	case setupExchange:
		return ps.exchange(step)
	}
	return nil, newError(0, ErrorUnknown)
}

// start handles M1 and answers M2 with the server public value and salt
func (ps *PairSetup) start(setupStart) (any, *ErrorContainer) {
	if ps.tries > maxTries {
		return nil, newError(StateM2, ErrorMaxTries)
	}

	dev, err := ps.store.Device()
	if err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	server, err := srp.NewServer(dev.PIN)
	if err != nil {
		return nil, newError(StateM2, ErrorUnknown)
	}

	// a new Start always replaces a previous session
	ps.session = &setupSession{srp: server}

	return &struct {
		Salt      []byte `tlv8:"2"`
		PublicKey []byte `tlv8:"3"`
		State     byte   `tlv8:"6"`
	}{
		Salt:      server.Salt(),
		PublicKey: server.PublicKey(),
		State:     StateM2,
	}, nil
}

// verify handles M3: computes the shared secret from the client public
// value and checks the client proof, answering M4 with the server proof
func (ps *PairSetup) verify(step setupVerify) (any, *ErrorContainer) {
	if ps.session == nil {
		return nil, newError(StateM4, ErrorUnknown)
	}

	// important to compute key before verify client
	shared, err := ps.session.srp.SharedKey(step.publicKey)
	if err != nil {
		return nil, newError(StateM4, ErrorUnknown)
	}

	if !ps.session.srp.VerifyClientProof(step.proof) {
		return nil, newError(StateM4, ErrorAuthentication)
	}

	ps.session.shared = shared

	return &struct {
		Proof []byte `tlv8:"4"`
		State byte   `tlv8:"6"`
	}{
		Proof: ps.session.srp.Proof(step.proof),
		State: StateM4,
	}, nil
}

// exchange handles M5: decrypts the controller identity, verifies its
// signature, persists the pairing and answers M6 with the accessory's own
// signed identity
func (ps *PairSetup) exchange(step setupExchange) (any, *ErrorContainer) {
	if ps.session == nil || ps.session.shared == nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	shared := ps.session.shared

	encryptKey, err := hkdf.Sha512(shared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	// a wrong auth tag is a hard decrypt error, nothing to recover
	b, err := chacha20poly1305.Decrypt(encryptKey, "PS-Msg05", step.data)
	if err != nil {
		return nil, newError(StateM6, ErrorAuthentication)
	}

	var plain struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plain); err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}
	if plain.Identifier == "" || len(plain.PublicKey) == 0 || len(plain.Signature) == 0 {
		return nil, newError(StateM6, ErrorUnknown)
	}

	controllerSign, err := hkdf.Sha512(
		shared, "Pair-Setup-Controller-Sign-Salt", "Pair-Setup-Controller-Sign-Info",
	)
	if err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	b = Append(controllerSign, plain.Identifier, plain.PublicKey)
	if !ed25519.ValidateSignature(plain.PublicKey, b, plain.Signature) {
		return nil, newError(StateM6, ErrorAuthentication)
	}

	id, err := uuid.Parse(plain.Identifier)
	if err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	// capacity check comes before the store write
	if ps.maxPeers > 0 {
		n, err := ps.store.CountPairings()
		if err != nil {
			return nil, newError(StateM6, ErrorUnknown)
		}
		if n+1 > ps.maxPeers {
			return nil, newError(StateM6, ErrorMaxPeers)
		}
	}

	pairing := &Pairing{ID: id, Permissions: PermissionAdmin, PublicKey: plain.PublicKey}
	if err = ps.store.SavePairing(pairing); err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	accessorySign, err := hkdf.Sha512(
		shared, "Pair-Setup-Accessory-Sign-Salt", "Pair-Setup-Accessory-Sign-Info",
	)
	if err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	dev, err := ps.store.Device()
	if err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	b = Append(accessorySign, dev.ID, dev.PublicKey)
	signature, err := ed25519.Signature(dev.PrivateKey, b)
	if err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	sub := struct {
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: dev.ID,
		PublicKey:  dev.PublicKey,
		Signature:  signature,
	}
	if b, err = tlv8.Marshal(sub); err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	if b, err = chacha20poly1305.Encrypt(encryptKey, "PS-Msg06", b); err != nil {
		return nil, newError(StateM6, ErrorUnknown)
	}

	if ps.onPaired != nil {
		ps.onPaired(pairing)
	}

	return &struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: b,
		State:         StateM6,
	}, nil
}
