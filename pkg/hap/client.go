package hap

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/openhap/hapd/pkg/hap/chacha20poly1305"
	"github.com/openhap/hapd/pkg/hap/curve25519"
	"github.com/openhap/hapd/pkg/hap/ed25519"
	"github.com/openhap/hapd/pkg/hap/hkdf"
	"github.com/openhap/hapd/pkg/hap/mdns"
	"github.com/openhap/hapd/pkg/hap/secure"
	"github.com/openhap/hapd/pkg/hap/tlv8"
)

const (
	ConnDialTimeout = time.Second * 3
	ConnDeadline    = time.Second * 3
)

// Client is the controller side of both handshakes. DevicePublic can be
// null until the first Pair.
type Client struct {
	DeviceAddress string // including port
	DeviceID      string // aka. Accessory
	DevicePublic  []byte
	ClientID      string // aka. Controller
	ClientPrivate []byte

	conn   net.Conn
	reader *bufio.Reader
}

// NewClient parses hap://host:port?device_id=...&client_id=...&client_private=...
func NewClient(rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	query := u.Query()
	c := &Client{
		DeviceAddress: u.Host,
		DeviceID:      query.Get("device_id"),
		DevicePublic:  DecodeKey(query.Get("device_public")),
		ClientID:      query.Get("client_id"),
		ClientPrivate: DecodeKey(query.Get("client_private")),
	}

	return c, nil
}

func (c *Client) ClientPublic() []byte {
	return c.ClientPrivate[32:]
}

func (c *Client) URL() string {
	return fmt.Sprintf(
		"hap://%s?device_id=%s&device_public=%x&client_id=%s&client_private=%x",
		c.DeviceAddress, c.DeviceID, c.DevicePublic, c.ClientID, c.ClientPrivate,
	)
}

// Dial runs Pair-Verify and upgrades the connection to the secure channel.
func (c *Client) Dial() (err error) {
	// update device address before dial when it is known via mDNS
	if c.DeviceAddress == "" && c.DeviceID != "" {
		c.DeviceAddress = mdns.GetAddress(c.DeviceID)
	}

	if c.conn, err = net.DialTimeout("tcp", c.DeviceAddress, ConnDialTimeout); err != nil {
		return
	}

	c.reader = bufio.NewReader(c.conn)

	// STEP M1: send our session public to device
	sessionPublic, sessionPrivate := curve25519.GenerateKeyPair()

	plainM1 := struct {
		PublicKey []byte `tlv8:"3"`
		State     byte   `tlv8:"6"`
	}{
		PublicKey: sessionPublic,
		State:     StateM1,
	}
	res, err := c.Post(PathPairVerify, MimeTLV8, tlv8.MarshalReader(plainM1))
	if err != nil {
		return
	}

	// STEP M2: unpack device session public and encrypted identity
	var cipherM2 struct {
		PublicKey     []byte `tlv8:"3"`
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
		Error         byte   `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &cipherM2); err != nil {
		return
	}
	if cipherM2.State != StateM2 || cipherM2.Error != 0 {
		return NewResponseError(plainM1, cipherM2)
	}

	// 1. generate session shared key
	sessionShared, err := curve25519.SharedSecret(sessionPrivate, cipherM2.PublicKey)
	if err != nil {
		return
	}

	sessionKey, err := hkdf.Sha512(
		sessionShared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info",
	)
	if err != nil {
		return
	}

	// 2. decrypt M2 response with session key
	b, err := chacha20poly1305.Decrypt(sessionKey, "PV-Msg02", cipherM2.EncryptedData)
	if err != nil {
		return
	}

	// 3. unpack payload from TLV8
	var plainM2 struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}
	if err = tlv8.Unmarshal(b, &plainM2); err != nil {
		return
	}

	// 4. verify signature for M2 response with device public
	// device session + device id + our session
	if c.DevicePublic != nil {
		b = Append(cipherM2.PublicKey, plainM2.Identifier, sessionPublic)
		if !ed25519.ValidateSignature(c.DevicePublic, b, plainM2.Signature) {
			return errors.New("hap: wrong accessory signature")
		}
	}

	// STEP M3: send our signed clientID to device
	// (our session + our ID + device session)
	b = Append(sessionPublic, c.ClientID, cipherM2.PublicKey)
	if b, err = ed25519.Signature(c.ClientPrivate, b); err != nil {
		return
	}

	plainM3 := struct {
		Identifier string `tlv8:"1"`
		Signature  []byte `tlv8:"10"`
	}{
		Identifier: c.ClientID,
		Signature:  b,
	}
	if b, err = tlv8.Marshal(plainM3); err != nil {
		return
	}

	if b, err = chacha20poly1305.Encrypt(sessionKey, "PV-Msg03", b); err != nil {
		return
	}

	cipherM3 := struct {
		EncryptedData []byte `tlv8:"5"`
		State         byte   `tlv8:"6"`
	}{
		EncryptedData: b,
		State:         StateM3,
	}
	if res, err = c.Post(PathPairVerify, MimeTLV8, tlv8.MarshalReader(cipherM3)); err != nil {
		return
	}

	// STEP M4. Read response
	var plainM4 struct {
		State byte `tlv8:"6"`
		Error byte `tlv8:"7"`
	}
	if err = tlv8.UnmarshalReader(res.Body, &plainM4); err != nil {
		return
	}
	if plainM4.State != StateM4 || plainM4.Error != 0 {
		return NewResponseError(cipherM3, plainM4)
	}

	// like tls.Client wrapper over net.Conn
	if c.conn, err = secure.Client(c.conn, sessionShared); err != nil {
		return
	}
	// new reader for new conn
	c.reader = bufio.NewReaderSize(c.conn, 32*1024) // 32K like default request body

	return
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Close()
}
