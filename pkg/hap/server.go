package hap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/openhap/hapd/pkg/hap/secure"
	"github.com/openhap/hapd/pkg/hap/tlv8"
	"github.com/rs/zerolog"
)

// Server accepts controller connections and runs one PairSetup and one
// PairVerify handler per connection. After a successful Pair-Verify the
// connection upgrades to the encrypted channel keyed from the handed-off
// shared secret.
type Server struct {
	Store    Store
	MaxPeers int // 0 = unlimited

	// OnDevicePaired fires exactly once per successful Pair-Setup Exchange
	OnDevicePaired func(p *Pairing)

	// DefaultSecureHandler serves everything but /pairings on the secure
	// channel, nil replies 404
	DefaultSecureHandler func(w io.Writer, r *http.Request, s Session) error

	Log zerolog.Logger
}

func (s *Server) Serve(address string) (err error) {
	var ln net.Listener
	if ln, err = net.Listen("tcp", address); err != nil {
		return
	}

	for {
		var conn net.Conn
		if conn, err = ln.Accept(); err != nil {
			continue
		}
		go func() {
			if err := s.Accept(conn); err != nil && err != io.EOF {
				s.Log.Debug().Err(err).Msg("[hap] connection closed")
			}
		}()
	}
}

// Accept serves one connection until it fails or closes. Steps of both
// handshakes arrive strictly sequentially, handler state never crosses
// connections.
func (s *Server) Accept(conn net.Conn) (err error) {
	defer conn.Close()

	setup := NewPairSetup(s.Store, s.MaxPeers, s.OnDevicePaired)

	sessions := make(chan Session, 1)
	verify := NewPairVerify(s.Store, sessions)

	r := bufio.NewReader(conn)
	for {
		var req *http.Request
		if req, err = http.ReadRequest(r); err != nil {
			return
		}

		var body []byte
		if body, err = io.ReadAll(req.Body); err != nil {
			return
		}

		switch req.URL.Path {
		case PathPairSetup:
			res, errc := setup.Handle(body)
			if errc != nil {
				s.Log.Warn().Err(errc).Msg("[hap] pair-setup")
			}
			if err = WriteResponse(conn, http.StatusOK, MimeTLV8, res); err != nil {
				return
			}

		case PathPairVerify:
			res, errc := verify.Handle(body)
			if errc != nil {
				s.Log.Warn().Err(errc).Msg("[hap] pair-verify")
			}
			if err = WriteResponse(conn, http.StatusOK, MimeTLV8, res); err != nil {
				return
			}

			// Finish hands the session over, time to leave plaintext
			select {
			case sess := <-sessions:
				var sc net.Conn
				if sc, err = secure.Server(conn, sess.SharedSecret); err != nil {
					return
				}
				s.Log.Debug().
					Str("controller", sess.ControllerID.String()).
					Msg("[hap] secure session")
				return s.handleSecure(sc, sess)
			default:
			}

		default:
			err = WriteResponse(conn, http.StatusNotFound, MimeTLV8, nil)
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) handleSecure(conn net.Conn, sess Session) (err error) {
	r := bufio.NewReader(conn)
	for {
		var req *http.Request
		if req, err = http.ReadRequest(r); err != nil {
			return
		}

		switch req.URL.Path {
		case PathPairings:
			if err = s.handlePairings(conn, req, sess); err != nil {
				return
			}
		default:
			if s.DefaultSecureHandler != nil {
				if err = s.DefaultSecureHandler(conn, req, sess); err != nil {
					return
				}
			} else if err = WriteResponse(conn, http.StatusNotFound, MimeTLV8, nil); err != nil {
				return
			}
		}
	}
}

// handlePairings serves add/remove/list for admin controllers over the
// secure channel
func (s *Server) handlePairings(w io.Writer, r *http.Request, sess Session) error {
	var req struct {
		Method     byte   `tlv8:"0"`
		Identifier string `tlv8:"1"`
		PublicKey  []byte `tlv8:"3"`
		State      byte   `tlv8:"6"`
		Permission byte   `tlv8:"11"`
	}
	if err := tlv8.UnmarshalReader(r.Body, &req); err != nil {
		return err
	}

	reply := func(res any) error {
		b, err := tlv8.Marshal(res)
		if err != nil {
			return err
		}
		return WriteResponse(w, http.StatusOK, MimeTLV8, b)
	}

	// only admins manage pairings
	requester, err := s.Store.Pairing(sess.ControllerID)
	if err != nil || !requester.Admin() {
		return reply(newError(StateM2, ErrorAuthentication))
	}

	switch req.Method {
	case MethodAddPairing:
		id, err := uuid.Parse(req.Identifier)
		if err != nil {
			return reply(newError(StateM2, ErrorUnknown))
		}
		p := &Pairing{ID: id, Permissions: req.Permission, PublicKey: req.PublicKey}
		if err = s.Store.SavePairing(p); err != nil {
			return reply(newError(StateM2, ErrorUnknown))
		}

	case MethodDeletePairing:
		id, err := uuid.Parse(req.Identifier)
		if err != nil {
			return reply(newError(StateM2, ErrorUnknown))
		}
		if err = s.Store.DeletePairing(id); err != nil {
			return reply(newError(StateM2, ErrorUnknown))
		}

	case MethodListPairings:
		type item struct {
			Identifier string `tlv8:"1"`
			PublicKey  []byte `tlv8:"3"`
			Permission byte   `tlv8:"11"`
		}
		res := struct {
			State byte   `tlv8:"6"`
			Items []item `tlv8:"1"`
		}{
			State: StateM2,
		}
		if ms, ok := s.Store.(interface{ Pairings() []*Pairing }); ok {
			for _, p := range ms.Pairings() {
				res.Items = append(res.Items, item{
					Identifier: p.ID.String(),
					PublicKey:  p.PublicKey,
					Permission: p.Permissions,
				})
			}
		}
		return reply(res)

	default:
		return reply(newError(StateM2, ErrorUnknown))
	}

	return reply(struct {
		State byte `tlv8:"6"`
	}{
		State: StateM2,
	})
}

func WriteResponse(w io.Writer, statusCode int, contentType string, body []byte) error {
	header := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
		statusCode, http.StatusText(statusCode), contentType, len(body),
	)
	if _, err := w.Write(append([]byte(header), body...)); err != nil {
		return err
	}
	return nil
}
