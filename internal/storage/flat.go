package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FlatStore is the fallback tier: a single YAML document mapping each key
// to the JSON text of its envelope. The whole file is rewritten on every change.
type FlatStore struct {
	path string
	mu   sync.Mutex
}

var _ Backend = (*FlatStore)(nil)

// OpenFlat prepares a flat store at path, creating its directory
func OpenFlat(path string) (*FlatStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "storage: create fallback directory")
	}
	fs := &FlatStore{path: path}
	// Surface a corrupt file at open rather than on first use
	if _, err := fs.read(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Close is a no-op; every write is already on disk
func (fs *FlatStore) Close() error { return nil }

func (fs *FlatStore) read() (map[string]string, error) {
	raw, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: read fallback file")
	}
	doc := map[string]string{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "storage: parse fallback file")
	}
	// Every value must decode as an envelope
	for key, text := range doc {
		var env Envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, eris.Wrapf(err, "storage: parse fallback entry %s", key)
		}
	}
	return doc, nil
}

func (fs *FlatStore) write(doc map[string]string) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return eris.Wrap(err, "storage: encode fallback file")
	}
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".fallback-*")
	if err != nil {
		return eris.Wrap(err, "storage: create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return eris.Wrap(err, "storage: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "storage: close temp file")
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return eris.Wrap(err, "storage: replace fallback file")
	}
	return nil
}

// Put stores the envelope as a JSON string under its key
func (fs *FlatStore) Put(ctx context.Context, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text, err := json.Marshal(env)
	if err != nil {
		return eris.Wrapf(err, "storage: encode %s", env.Key)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.read()
	if err != nil {
		return err
	}
	doc[env.Key] = string(text)
	return fs.write(doc)
}

// Get parses the envelope stored under key
func (fs *FlatStore) Get(ctx context.Context, key string) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	doc, err := fs.read()
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	text, ok := doc[key]
	if !ok {
		return nil, nil
	}
	env := &Envelope{}
	if err := json.Unmarshal([]byte(text), env); err != nil {
		return nil, eris.Wrapf(err, "storage: parse %s", key)
	}
	return env, nil
}

// Delete removes key; a missing key is not an error
func (fs *FlatStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return fs.write(doc)
}

// Keys lists every stored key in sorted order
func (fs *FlatStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	doc, err := fs.read()
	fs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
