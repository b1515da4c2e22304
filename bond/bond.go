// Package bond persists Bond Records — the (identity address, IRK, LTK,
// CCCD snapshot) tuple a pairing leaves behind, [Vol 3, Part H, 1] — so a
// previously paired central can reconnect and resume encryption without
// repeating the SMP exchange.
package bond

import (
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Record is one bonded central's persisted pairing material, keyed by its
// identity address. CCCD is the snapshot gatt's cccdStore hands back on
// disconnect, restored verbatim on reconnect so a bonded central does not
// have to re-subscribe to its notifications.
type Record struct {
	IdentityAddress string
	IdentityIsRandom bool
	IRK             []byte // identity resolving key, 16 bytes
	LTK             []byte // long term key, 16 bytes
	EDIV            uint16
	Rand            uint64
	EncryptionKeySize byte
	CCCD            []byte
}

// clone returns a deep copy, so a caller mutating a Record they got from
// Find cannot corrupt the store's own copy.
func (r Record) clone() Record {
	cp := r
	cp.IRK = append([]byte(nil), r.IRK...)
	cp.LTK = append([]byte(nil), r.LTK...)
	cp.CCCD = append([]byte(nil), r.CCCD...)
	return cp
}

// Persister is the durable half of a Store: whatever a Store can't keep in
// its bounded in-memory cache still needs to survive a restart. A caller
// backing a Store with a file, a key-value DB, or nothing at all (an
// in-memory-only deployment) implements this.
type Persister interface {
	Load(identityAddress string) (Record, bool, error)
	Save(Record) error
	Delete(identityAddress string) error
}

// ErrNotBonded is returned by Find when no record exists for the given
// identity address.
var ErrNotBonded = errors.New("bond: no record for address")

// nullPersister is the zero-value Persister: no Store-level durability
// beyond the in-memory LRU cache. Useful for tests and for a peripheral
// that is fine re-pairing after every power cycle.
type nullPersister struct{}

func (nullPersister) Load(string) (Record, bool, error) { return Record{}, false, nil }
func (nullPersister) Save(Record) error                 { return nil }
func (nullPersister) Delete(string) error                { return nil }

// Store is an LRU-cache-fronted Bond Record table: hot records (the
// centrals that have connected recently) are served from memory, with
// every write and eviction pushed through to a Persister.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache
	back  Persister
}

// NewStore returns a Store holding up to size records in memory at once,
// backed by back (or a no-op Persister if back is nil).
func NewStore(size int, back Persister) (*Store, error) {
	if back == nil {
		back = nullPersister{}
	}
	s := &Store{back: back}
	cache, err := lru.NewWithEvict(size, s.onEvicted)
	if err != nil {
		return nil, errors.Wrap(err, "bond: constructing lru cache")
	}
	s.cache = cache
	return s, nil
}

func (s *Store) onEvicted(key, value interface{}) {
	rec := value.(Record)
	if err := s.back.Save(rec); err != nil {
		_ = err // best-effort; the record is still recoverable from the persister's own durability
	}
}

// Find returns the bond record for identityAddress, checking the in-memory
// cache before falling back to the Persister.
func (s *Store) Find(identityAddress string) (Record, error) {
	s.mu.Lock()
	if v, ok := s.cache.Get(identityAddress); ok {
		rec := v.(Record).clone()
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	rec, ok, err := s.back.Load(identityAddress)
	if err != nil {
		return Record{}, errors.Wrapf(err, "bond: loading record for %s", identityAddress)
	}
	if !ok {
		return Record{}, ErrNotBonded
	}
	s.mu.Lock()
	s.cache.Add(identityAddress, rec)
	s.mu.Unlock()
	return rec.clone(), nil
}

// Save installs rec into the cache and pushes it through to the
// Persister immediately, so a crash right after pairing does not lose it.
func (s *Store) Save(rec Record) error {
	if err := s.back.Save(rec); err != nil {
		return errors.Wrapf(err, "bond: persisting record for %s", rec.IdentityAddress)
	}
	s.mu.Lock()
	s.cache.Add(rec.IdentityAddress, rec.clone())
	s.mu.Unlock()
	return nil
}

// UpdateCCCD rewrites just the CCCD snapshot of an existing bond record,
// the operation gatt's Server calls on disconnect for a bonded
// connection.
func (s *Store) UpdateCCCD(identityAddress string, snapshot []byte) error {
	rec, err := s.Find(identityAddress)
	if err != nil {
		return err
	}
	rec.CCCD = append([]byte(nil), snapshot...)
	return s.Save(rec)
}

// Delete forgets a bond, e.g. in response to a central's explicit
// unbonding request.
func (s *Store) Delete(identityAddress string) error {
	s.mu.Lock()
	s.cache.Remove(identityAddress)
	s.mu.Unlock()
	return s.back.Delete(identityAddress)
}

// MarshalRecord renders a Record in the store's on-disk wire format: JSON,
// chosen over a packed binary layout because bond records are written
// rarely (once per pairing) and read by humans often enough during
// development that readability wins.
func MarshalRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord parses MarshalRecord's output.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(b, &r)
	return r, err
}
