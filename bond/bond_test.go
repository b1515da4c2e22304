package bond

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	records map[string]Record
	saves   int
}

func newMemPersister() *memPersister {
	return &memPersister{records: map[string]Record{}}
}

func (p *memPersister) Load(addr string) (Record, bool, error) {
	r, ok := p.records[addr]
	return r, ok, nil
}

func (p *memPersister) Save(r Record) error {
	p.saves++
	p.records[r.IdentityAddress] = r
	return nil
}

func (p *memPersister) Delete(addr string) error {
	delete(p.records, addr)
	return nil
}

func TestStoreSaveAndFindRoundTrips(t *testing.T) {
	back := newMemPersister()
	s, err := NewStore(4, back)
	require.NoError(t, err)

	rec := Record{
		IdentityAddress: "aa:bb:cc:dd:ee:ff",
		LTK:             []byte("0123456789abcdef"),
		EncryptionKeySize: 16,
		CCCD:            []byte{0x01, 0x00},
	}
	require.NoError(t, s.Save(rec))

	got, err := s.Find("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, rec.LTK, got.LTK)
	assert.Equal(t, rec.CCCD, got.CCCD)
	assert.Equal(t, 1, back.saves)
}

func TestStoreFindFallsBackToPersister(t *testing.T) {
	back := newMemPersister()
	back.records["11:22:33:44:55:66"] = Record{IdentityAddress: "11:22:33:44:55:66", LTK: []byte("ltkltkltkltkltk1")}

	s, err := NewStore(4, back)
	require.NoError(t, err)

	got, err := s.Find("11:22:33:44:55:66")
	require.NoError(t, err)
	assert.Equal(t, []byte("ltkltkltkltkltk1"), got.LTK)
}

func TestStoreFindUnknownReturnsError(t *testing.T) {
	s, err := NewStore(4, nil)
	require.NoError(t, err)
	_, err = s.Find("00:00:00:00:00:00")
	assert.Error(t, err)
}

func TestStoreEvictionPersistsBeforeDroppingFromCache(t *testing.T) {
	back := newMemPersister()
	s, err := NewStore(1, back)
	require.NoError(t, err)

	require.NoError(t, s.Save(Record{IdentityAddress: "a"}))
	require.NoError(t, s.Save(Record{IdentityAddress: "b"}))

	_, ok, _ := back.Load("a")
	assert.True(t, ok, "evicted record a must have been persisted")
}

func TestUpdateCCCDPreservesOtherFields(t *testing.T) {
	back := newMemPersister()
	s, err := NewStore(4, back)
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{IdentityAddress: "a", LTK: []byte("ltkltkltkltkltk1")}))

	require.NoError(t, s.UpdateCCCD("a", []byte{0x02, 0x00}))

	got, err := s.Find("a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00}, got.CCCD)
	assert.Equal(t, []byte("ltkltkltkltkltk1"), got.LTK)
}

func TestMarshalUnmarshalRecordRoundTrips(t *testing.T) {
	rec := Record{IdentityAddress: "a", LTK: []byte("ltkltkltkltkltk1"), EDIV: 7, Rand: 99}
	b, err := MarshalRecord(rec)
	require.NoError(t, err)

	got, err := UnmarshalRecord(b)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDeleteRemovesFromCacheAndPersister(t *testing.T) {
	back := newMemPersister()
	s, err := NewStore(4, back)
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{IdentityAddress: "a"}))

	require.NoError(t, s.Delete("a"))

	_, err = s.Find("a")
	assert.Error(t, err)
}
