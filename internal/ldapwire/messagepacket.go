package ldapwire

import (
	"bufio"
	"bytes"

	ber "github.com/go-asn1-ber/asn1-ber"
	ldap "github.com/lor00x/goldap/message"
)

// messagePacket holds the raw BER bytes of one LDAPMessage, read off the
// wire before being handed to goldap for typed decoding. The client keeps
// a copy of the last packet's raw bytes, returned by client.GetRaw.
type messagePacket struct {
	bytes []byte
}

// readMessagePacket reads exactly one BER element from br using the same
// asn1-ber framing go-ldap/v3 uses on the client side of this proxy's
// backend connections.
func readMessagePacket(br *bufio.Reader) (*messagePacket, error) {
	p, err := ber.ReadPacket(br)
	if err != nil {
		return nil, err
	}
	return &messagePacket{bytes: p.Bytes()}, nil
}

// readMessage decodes the captured bytes into a typed LDAPMessage.
func (mp *messagePacket) readMessage() (ldap.LDAPMessage, error) {
	return ldap.ReadLDAPMessage(bufio.NewReader(bytes.NewReader(mp.bytes)))
}
