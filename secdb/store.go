package secdb

import (
	"encoding/hex"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/blekit/ble"
)

// Store is a file-backed Database. Records are kept in memory in a bounded
// arena and flushed to a JSON file on Sync. Callbacks are invoked before
// the get call returns.
type Store struct {
	mu       sync.RWMutex
	filename string
	restore  bool

	localCSRK        ble.CSRK
	localCSRKSet     bool
	localSignCounter uint32

	entries []*entry
}

type entry struct {
	open     bool
	resident bool // has persisted or in-flight material

	peerType ble.AddrType
	peerAddr ble.Addr

	flags DistributionFlags

	localKeys    EntryKeys
	hasLocalKeys bool
	peerKeys     EntryKeys
	hasPeerKeys  bool

	peerCSRK        ble.CSRK
	hasPeerCSRK     bool
	peerSignCounter uint32

	identity    EntryIdentity
	hasIdentity bool
}

type storeFile struct {
	LocalCSRK        string      `json:"localCsrk,omitempty"`
	LocalSignCounter uint32      `json:"localSignCounter"`
	Bonds            []bondRecord `json:"bonds"`
}

type bondRecord struct {
	PeerAddress     string `json:"peerAddress"`
	PeerAddressType uint8  `json:"peerAddressType"`

	PeerPublic        bool `json:"peerPublic"`
	LTKStored         bool `json:"ltkStored"`
	LTKMitm           bool `json:"ltkMitm"`
	CSRKStored        bool `json:"csrkStored"`
	CSRKMitm          bool `json:"csrkMitm"`
	IRKStored         bool `json:"irkStored"`
	IdentityStored    bool `json:"identityStored"`
	SecureConnections bool `json:"secureConnections"`

	LocalLTK  string `json:"localLtk,omitempty"`
	LocalEdiv uint16 `json:"localEdiv"`
	LocalRand uint64 `json:"localRand"`
	HasLocal  bool   `json:"hasLocalKeys"`

	PeerLTK  string `json:"peerLtk,omitempty"`
	PeerEdiv uint16 `json:"peerEdiv"`
	PeerRand uint64 `json:"peerRand"`
	HasPeer  bool   `json:"hasPeerKeys"`

	PeerCSRK        string `json:"peerCsrk,omitempty"`
	HasPeerCSRK     bool   `json:"hasPeerCsrk"`
	PeerSignCounter uint32 `json:"peerSignCounter"`

	IdentityPublic  bool   `json:"identityPublic"`
	IdentityAddress string `json:"identityAddress,omitempty"`
	IRK             string `json:"irk,omitempty"`
	HasIdentity     bool   `json:"hasIdentity"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultCapacity bounds the number of bonded peers the store keeps.
const DefaultCapacity = 16

// NewStore creates a store persisted at filename. Restore is enabled by
// default; call Restore to load the file. An empty filename keeps the
// store in memory only.
func NewStore(filename string) *Store {
	s := &Store{
		filename: filename,
		restore:  true,
		entries:  make([]*entry, DefaultCapacity),
	}
	for i := range s.entries {
		s.entries[i] = &entry{}
	}
	return s
}

func (s *Store) OpenEntry(peerType ble.AddrType, peer ble.Addr) EntryHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := Invalid
	for i, e := range s.entries {
		if e.resident && e.peerAddr == peer && e.peerType == peerType {
			e.open = true
			return EntryHandle(i)
		}
		if !e.resident && free == Invalid {
			free = EntryHandle(i)
		}
	}
	if free == Invalid {
		return Invalid
	}
	e := s.entries[free]
	*e = entry{open: true, resident: true, peerType: peerType, peerAddr: peer}
	return free
}

func (s *Store) CloseEntry(h EntryHandle) {
	s.mu.Lock()
	e := s.get(h)
	if e != nil {
		e.open = false
		// entries with no stored material do not survive a close
		if !e.hasLocalKeys && !e.hasPeerKeys && !e.hasPeerCSRK && !e.hasIdentity {
			*e = entry{}
		}
	}
	s.mu.Unlock()
}

func (s *Store) get(h EntryHandle) *entry {
	if h < 0 || int(h) >= len(s.entries) {
		return nil
	}
	e := s.entries[h]
	if !e.resident {
		return nil
	}
	return e
}

func (s *Store) DistributionFlags(h EntryHandle) (DistributionFlags, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.get(h); e != nil {
		return e.flags, true
	}
	return DistributionFlags{}, false
}

func (s *Store) SetDistributionFlags(h EntryHandle, f DistributionFlags) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.flags = f
	}
	s.mu.Unlock()
}

func (s *Store) LocalCSRK() (ble.CSRK, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localCSRK, s.localCSRKSet
}

func (s *Store) SetLocalCSRK(k ble.CSRK) {
	s.mu.Lock()
	s.localCSRK = k
	s.localCSRKSet = true
	s.mu.Unlock()
}

func (s *Store) LocalSignCounter() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localSignCounter
}

func (s *Store) SetLocalSignCounter(c uint32) {
	s.mu.Lock()
	s.localSignCounter = c
	s.mu.Unlock()
}

func (s *Store) EntryLocalKeys(cb KeysCallback, h EntryHandle, ediv uint16, rand uint64) {
	s.mu.RLock()
	e := s.get(h)
	var keys *EntryKeys
	if e != nil && e.hasLocalKeys && e.localKeys.Ediv == ediv && e.localKeys.Rand == rand {
		k := e.localKeys
		keys = &k
	}
	s.mu.RUnlock()
	cb(h, keys)
}

func (s *Store) EntryLocalKeysSC(cb KeysCallback, h EntryHandle) {
	s.mu.RLock()
	e := s.get(h)
	var keys *EntryKeys
	if e != nil && e.hasLocalKeys {
		k := e.localKeys
		keys = &k
	}
	s.mu.RUnlock()
	cb(h, keys)
}

func (s *Store) SetEntryLocalLTK(h EntryHandle, ltk ble.LTK) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.localKeys.LTK = ltk
		e.hasLocalKeys = true
	}
	s.mu.Unlock()
}

func (s *Store) SetEntryLocalEdivRand(h EntryHandle, ediv uint16, rand uint64) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.localKeys.Ediv = ediv
		e.localKeys.Rand = rand
	}
	s.mu.Unlock()
}

func (s *Store) EntryPeerKeys(cb KeysCallback, h EntryHandle) {
	s.mu.RLock()
	e := s.get(h)
	var keys *EntryKeys
	if e != nil && e.hasPeerKeys {
		k := e.peerKeys
		keys = &k
	}
	s.mu.RUnlock()
	cb(h, keys)
}

func (s *Store) EntryPeerCSRK(cb CSRKCallback, h EntryHandle) {
	s.mu.RLock()
	e := s.get(h)
	var csrk *ble.CSRK
	var counter uint32
	if e != nil && e.hasPeerCSRK {
		k := e.peerCSRK
		csrk = &k
		counter = e.peerSignCounter
	}
	s.mu.RUnlock()
	cb(h, csrk, counter)
}

func (s *Store) SetEntryPeerLTK(h EntryHandle, ltk ble.LTK) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.peerKeys.LTK = ltk
		e.hasPeerKeys = true
	}
	s.mu.Unlock()
}

func (s *Store) SetEntryPeerEdivRand(h EntryHandle, ediv uint16, rand uint64) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.peerKeys.Ediv = ediv
		e.peerKeys.Rand = rand
	}
	s.mu.Unlock()
}

func (s *Store) SetEntryPeerIRK(h EntryHandle, irk ble.IRK) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.identity.IRK = irk
		e.hasIdentity = true
	}
	s.mu.Unlock()
}

func (s *Store) SetEntryPeerIdentity(h EntryHandle, addressIsPublic bool, address ble.Addr) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.identity.AddressIsPublic = addressIsPublic
		e.identity.Address = address
	}
	s.mu.Unlock()
}

func (s *Store) SetEntryPeerCSRK(h EntryHandle, csrk ble.CSRK) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.peerCSRK = csrk
		e.hasPeerCSRK = true
	}
	s.mu.Unlock()
}

func (s *Store) SetEntryPeerSignCounter(h EntryHandle, counter uint32) {
	s.mu.Lock()
	if e := s.get(h); e != nil {
		e.peerSignCounter = counter
	}
	s.mu.Unlock()
}

func (s *Store) EntryIdentity(cb IdentityCallback, h EntryHandle) {
	s.mu.RLock()
	e := s.get(h)
	var id *EntryIdentity
	if e != nil && e.hasIdentity {
		v := e.identity
		id = &v
	}
	s.mu.RUnlock()
	cb(h, id)
}

func (s *Store) IdentityList(cb IdentityListCallback) {
	s.mu.RLock()
	var out []EntryIdentity
	for _, e := range s.entries {
		if e.resident && e.hasIdentity {
			out = append(out, e.identity)
		}
	}
	s.mu.RUnlock()
	cb(out)
}

func (s *Store) WhitelistFromBondTable(cb WhitelistCallback, capacity int) {
	s.mu.RLock()
	var out []ble.WhitelistEntry
	for _, e := range s.entries {
		if !e.resident || len(out) >= capacity {
			continue
		}
		t := ble.AddrRandomStatic
		a := e.peerAddr
		if e.hasIdentity {
			a = e.identity.Address
			if e.identity.AddressIsPublic {
				t = ble.AddrPublic
			}
		} else if e.peerType == ble.AddrPublic {
			t = ble.AddrPublic
		}
		out = append(out, ble.WhitelistEntry{Type: t, Addr: a})
	}
	s.mu.RUnlock()
	cb(out)
}

// Restore loads the backing file. Missing file is not an error; it simply
// starts empty. Restore honors SetRestore(false) by leaving the arena
// untouched.
func (s *Store) Restore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.restore {
		return nil
	}

	data, err := ioutil.ReadFile(s.filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "secdb: read store file")
	}
	if len(data) == 0 {
		return nil
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return errors.Wrap(err, "secdb: unmarshal store file")
	}

	if f.LocalCSRK != "" {
		if k, err := decodeKey16(f.LocalCSRK); err == nil {
			copy(s.localCSRK[:], k)
			s.localCSRKSet = true
		}
	}
	s.localSignCounter = f.LocalSignCounter

	for i, r := range f.Bonds {
		if i >= len(s.entries) {
			break
		}
		e := s.entries[i]
		*e = entry{resident: true}
		e.peerType = ble.AddrType(r.PeerAddressType)
		if addr, err := ble.ParseAddr(r.PeerAddress); err == nil {
			e.peerAddr = addr
		}
		e.flags = DistributionFlags{
			PeerAddressIsPublic: r.PeerPublic,
			LTKStored:           r.LTKStored,
			LTKMitm:             r.LTKMitm,
			CSRKStored:          r.CSRKStored,
			CSRKMitm:            r.CSRKMitm,
			IRKStored:           r.IRKStored,
			IdentityStored:      r.IdentityStored,
			SecureConnections:   r.SecureConnections,
		}
		if r.HasLocal {
			if k, err := decodeKey16(r.LocalLTK); err == nil {
				copy(e.localKeys.LTK[:], k)
				e.localKeys.Ediv = r.LocalEdiv
				e.localKeys.Rand = r.LocalRand
				e.hasLocalKeys = true
			}
		}
		if r.HasPeer {
			if k, err := decodeKey16(r.PeerLTK); err == nil {
				copy(e.peerKeys.LTK[:], k)
				e.peerKeys.Ediv = r.PeerEdiv
				e.peerKeys.Rand = r.PeerRand
				e.hasPeerKeys = true
			}
		}
		if r.HasPeerCSRK {
			if k, err := decodeKey16(r.PeerCSRK); err == nil {
				copy(e.peerCSRK[:], k)
				e.peerSignCounter = r.PeerSignCounter
				e.hasPeerCSRK = true
			}
		}
		if r.HasIdentity {
			if k, err := decodeKey16(r.IRK); err == nil {
				copy(e.identity.IRK[:], k)
				e.identity.AddressIsPublic = r.IdentityPublic
				if addr, err := ble.ParseAddr(r.IdentityAddress); err == nil {
					e.identity.Address = addr
				}
				e.hasIdentity = true
			}
		}
	}

	return nil
}

// Sync flushes the arena to the backing file.
func (s *Store) Sync() error {
	if s.filename == "" {
		return nil
	}
	s.mu.RLock()
	f := storeFile{LocalSignCounter: s.localSignCounter}
	if s.localCSRKSet {
		f.LocalCSRK = hex.EncodeToString(s.localCSRK[:])
	}
	for _, e := range s.entries {
		if !e.resident {
			continue
		}
		r := bondRecord{
			PeerAddress:       e.peerAddr.String(),
			PeerAddressType:   uint8(e.peerType),
			PeerPublic:        e.flags.PeerAddressIsPublic,
			LTKStored:         e.flags.LTKStored,
			LTKMitm:           e.flags.LTKMitm,
			CSRKStored:        e.flags.CSRKStored,
			CSRKMitm:          e.flags.CSRKMitm,
			IRKStored:         e.flags.IRKStored,
			IdentityStored:    e.flags.IdentityStored,
			SecureConnections: e.flags.SecureConnections,
			HasLocal:          e.hasLocalKeys,
			HasPeer:           e.hasPeerKeys,
			HasPeerCSRK:       e.hasPeerCSRK,
			PeerSignCounter:   e.peerSignCounter,
			HasIdentity:       e.hasIdentity,
		}
		if e.hasLocalKeys {
			r.LocalLTK = hex.EncodeToString(e.localKeys.LTK[:])
			r.LocalEdiv = e.localKeys.Ediv
			r.LocalRand = e.localKeys.Rand
		}
		if e.hasPeerKeys {
			r.PeerLTK = hex.EncodeToString(e.peerKeys.LTK[:])
			r.PeerEdiv = e.peerKeys.Ediv
			r.PeerRand = e.peerKeys.Rand
		}
		if e.hasPeerCSRK {
			r.PeerCSRK = hex.EncodeToString(e.peerCSRK[:])
		}
		if e.hasIdentity {
			r.IRK = hex.EncodeToString(e.identity.IRK[:])
			r.IdentityPublic = e.identity.AddressIsPublic
			r.IdentityAddress = e.identity.Address.String()
		}
		f.Bonds = append(f.Bonds, r)
	}
	s.mu.RUnlock()

	out, err := json.Marshal(&f)
	if err != nil {
		return errors.Wrap(err, "secdb: marshal store file")
	}
	if err := ioutil.WriteFile(s.filename, out, 0600); err != nil {
		return errors.Wrap(err, "secdb: write store file")
	}
	return nil
}

// Clear drops every bond and the local signing material, in memory and on
// disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	for _, e := range s.entries {
		*e = entry{}
	}
	s.localCSRKSet = false
	s.localCSRK = ble.CSRK{}
	s.localSignCounter = 0
	s.mu.Unlock()
	return s.Sync()
}

func (s *Store) SetRestore(enabled bool) {
	s.mu.Lock()
	s.restore = enabled
	s.mu.Unlock()
}

func decodeKey16(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 16 {
		return nil, errors.New("secdb: key is not 16 bytes")
	}
	return b, nil
}
