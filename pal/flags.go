package pal

// AuthenticationMask is the AuthReq field of pairing requests/responses:
// bonding, MITM, secure connections and keypress bits with named accessors.
type AuthenticationMask uint8

const (
	authBondable          AuthenticationMask = 0x01
	authMITM              AuthenticationMask = 0x04
	authSecureConnections AuthenticationMask = 0x08
	authKeypress          AuthenticationMask = 0x10
)

func (m AuthenticationMask) Bondable() bool          { return m&authBondable != 0 }
func (m AuthenticationMask) MITM() bool              { return m&authMITM != 0 }
func (m AuthenticationMask) SecureConnections() bool { return m&authSecureConnections != 0 }
func (m AuthenticationMask) Keypress() bool          { return m&authKeypress != 0 }

func (m AuthenticationMask) WithBondable(on bool) AuthenticationMask {
	return m.set(authBondable, on)
}
func (m AuthenticationMask) WithMITM(on bool) AuthenticationMask {
	return m.set(authMITM, on)
}
func (m AuthenticationMask) WithSecureConnections(on bool) AuthenticationMask {
	return m.set(authSecureConnections, on)
}
func (m AuthenticationMask) WithKeypress(on bool) AuthenticationMask {
	return m.set(authKeypress, on)
}

func (m AuthenticationMask) set(bit AuthenticationMask, on bool) AuthenticationMask {
	if on {
		return m | bit
	}
	return m &^ bit
}

// KeyDistribution is the SMP key distribution bit field: which keys a side
// offers to send during pairing.
type KeyDistribution uint8

const (
	KeyDistEncryption KeyDistribution = 0x01 // LTK, EDIV, RAND
	KeyDistIdentity   KeyDistribution = 0x02 // IRK, identity address
	KeyDistSigning    KeyDistribution = 0x04 // CSRK
	KeyDistLink       KeyDistribution = 0x08 // derivation of BR/EDR link key

	KeyDistAll KeyDistribution = 0x0f
)

func (d KeyDistribution) Encryption() bool { return d&KeyDistEncryption != 0 }
func (d KeyDistribution) Identity() bool   { return d&KeyDistIdentity != 0 }
func (d KeyDistribution) Signing() bool    { return d&KeyDistSigning != 0 }
func (d KeyDistribution) Link() bool       { return d&KeyDistLink != 0 }

func (d KeyDistribution) WithEncryption(on bool) KeyDistribution { return d.set(KeyDistEncryption, on) }
func (d KeyDistribution) WithIdentity(on bool) KeyDistribution   { return d.set(KeyDistIdentity, on) }
func (d KeyDistribution) WithSigning(on bool) KeyDistribution    { return d.set(KeyDistSigning, on) }
func (d KeyDistribution) WithLink(on bool) KeyDistribution       { return d.set(KeyDistLink, on) }

// And intersects two distributions; the negotiated set is always the AND of
// what both sides offer.
func (d KeyDistribution) And(o KeyDistribution) KeyDistribution { return d & o }

// Or unions two distributions.
func (d KeyDistribution) Or(o KeyDistribution) KeyDistribution { return d | o }

func (d KeyDistribution) set(bit KeyDistribution, on bool) KeyDistribution {
	if on {
		return d | bit
	}
	return d &^ bit
}
