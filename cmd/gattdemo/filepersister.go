package main

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/silicon-periph/gattcore/bond"
)

// filePersister keeps one JSON file per bonded identity address under a
// directory, the simplest durable bond.Persister that still survives a
// process restart.
type filePersister struct {
	mu  sync.Mutex
	dir string
}

func newFilePersister(dir string) *filePersister {
	return &filePersister{dir: dir}
}

func (p *filePersister) path(addr string) string {
	return filepath.Join(p.dir, addr+".json")
}

func (p *filePersister) Load(addr string) (bond.Record, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, err := os.ReadFile(p.path(addr))
	if os.IsNotExist(err) {
		return bond.Record{}, false, nil
	}
	if err != nil {
		return bond.Record{}, false, errors.Wrapf(err, "gattdemo: reading bond record %s", addr)
	}
	rec, err := bond.UnmarshalRecord(b)
	if err != nil {
		return bond.Record{}, false, errors.Wrapf(err, "gattdemo: parsing bond record %s", addr)
	}
	return rec, true, nil
}

func (p *filePersister) Save(rec bond.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.MkdirAll(p.dir, 0o700); err != nil {
		return errors.Wrap(err, "gattdemo: creating bond store directory")
	}
	b, err := bond.MarshalRecord(rec)
	if err != nil {
		return errors.Wrap(err, "gattdemo: marshaling bond record")
	}
	return errors.Wrap(os.WriteFile(p.path(rec.IdentityAddress), b, 0o600), "gattdemo: writing bond record")
}

func (p *filePersister) Delete(addr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := os.Remove(p.path(addr))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "gattdemo: deleting bond record")
}
