// Package srp is the accessory side of the Pair-Setup password exchange:
// SRP-6a over the RFC 5054 3072-bit group with SHA-512 everywhere (private
// key derivation, verifier, key agreement and both proofs).
package srp

import (
	"crypto/sha512"

	"github.com/tadglines/go-pkgs/crypto/srp"
)

const (
	// Username is the fixed SRP identity for Pair-Setup.
	Username = "Pair-Setup"

	group      = "rfc5054.3072"
	saltLength = 16
)

func newPake() (*srp.SRP, error) {
	pake, err := srp.NewSRP(group, sha512.New, keyDerivativeFuncRFC2945([]byte(Username)))
	if err != nil {
		return nil, err
	}

	pake.SaltLength = saltLength

	return pake, nil
}

// Server holds the accessory ephemeral key material for one handshake. The
// 16-byte salt and password verifier are computed at construction, the
// ephemeral exponent lives inside the session and is reused by every step.
type Server struct {
	salt    []byte
	session *srp.ServerSession
}

func NewServer(pin string) (*Server, error) {
	pake, err := newPake()
	if err != nil {
		return nil, err
	}

	salt, verifier, err := pake.ComputeVerifier([]byte(pin))
	if err != nil {
		return nil, err
	}

	return &Server{
		salt:    salt,
		session: pake.NewServerSession([]byte(Username), salt, verifier),
	}, nil
}

func (s *Server) Salt() []byte {
	return s.salt
}

// PublicKey returns the server public value B.
func (s *Server) PublicKey() []byte {
	return s.session.GetB()
}

// SharedKey computes the shared secret K from the client public value A.
// Must be called before VerifyClientProof.
func (s *Server) SharedKey(clientPublic []byte) ([]byte, error) {
	return s.session.ComputeKey(clientPublic)
}

// VerifyClientProof checks the client proof
// M1 = H(H(N) xor H(g) | H(I) | s | A | B | K).
func (s *Server) VerifyClientProof(proof []byte) bool {
	return s.session.VerifyClientAuthenticator(proof)
}

// Proof computes the server proof M2 = H(A | M1 | K).
func (s *Server) Proof(clientProof []byte) []byte {
	return s.session.ComputeAuthenticator(clientProof)
}

// Client is the controller side of the same exchange.
type Client struct {
	session *srp.ClientSession
}

func NewClient(pin string) (*Client, error) {
	pake, err := newPake()
	if err != nil {
		return nil, err
	}

	return &Client{
		session: pake.NewClientSession([]byte(Username), []byte(pin)),
	}, nil
}

// PublicKey returns the client public value A.
func (c *Client) PublicKey() []byte {
	return c.session.GetA()
}

func (c *Client) SharedKey(salt, serverPublic []byte) ([]byte, error) {
	return c.session.ComputeKey(salt, serverPublic)
}

func (c *Client) Proof() []byte {
	return c.session.ComputeAuthenticator()
}

func (c *Client) VerifyServerProof(proof []byte) bool {
	return c.session.VerifyServerAuthenticator(proof)
}

// x = H(s | H(I | ":" | P))
func keyDerivativeFuncRFC2945(username []byte) srp.KeyDerivationFunc {
	return func(salt, password []byte) []byte {
		h1 := sha512.New()
		h1.Write(username)
		h1.Write([]byte(":"))
		h1.Write(password)

		h2 := sha512.New()
		h2.Write(salt)
		h2.Write(h1.Sum(nil))

		return h2.Sum(nil)
	}
}
