package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mbocsi/wearbridge/proto"
)

// DataStore is the hub's replicated data-item store. Items are keyed by
// URI, authority being the writing node; asset bytes are kept by digest
// and shared between items.
type DataStore struct {
	mu     sync.RWMutex
	items  map[proto.URI]proto.DataItem
	assets map[string][]byte
	seq    uint64
}

func NewDataStore() *DataStore {
	return &DataStore{
		items:  make(map[proto.URI]proto.DataItem),
		assets: make(map[string][]byte),
	}
}

// Put stores envelope at authority/path, replacing any previous item.
// Every asset the envelope references must be supplied in assets or
// already be stored; supplied bytes must match their digest.
func (s *DataStore) Put(authority, path string, envelope []byte, assets map[string][]byte) (proto.DataItem, error) {
	uri, err := proto.NewURI(authority, path)
	if err != nil {
		return proto.DataItem{}, err
	}
	if authority == "" {
		return proto.DataItem{}, proto.Errorf(proto.CodeInvalidInput, "data item needs an authority")
	}
	env, err := proto.EnvelopeFromBytes(envelope)
	if err != nil {
		return proto.DataItem{}, err
	}
	for digest, data := range assets {
		if proto.Digest(data) != digest {
			return proto.DataItem{}, fmt.Errorf("%w: asset bytes do not match digest %s", proto.ErrMalformed, digest)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range env.Assets() {
		if _, ok := assets[a.Digest]; ok {
			continue
		}
		if _, ok := s.assets[a.Digest]; !ok {
			return proto.DataItem{}, fmt.Errorf("%w: missing bytes for asset %s", proto.ErrMalformed, a.Digest)
		}
	}
	for _, a := range env.Assets() {
		if data, ok := assets[a.Digest]; ok {
			s.assets[a.Digest] = data
		}
	}

	s.seq++
	item := proto.DataItem{URI: uri, Data: slices.Clone(envelope), Seq: s.seq}
	s.items[uri] = item
	return item, nil
}

func (s *DataStore) Get(uri proto.URI) (proto.DataItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[uri]
	if !ok {
		return proto.DataItem{}, proto.Errorf(proto.CodeNotFound, "no data item at %s", uri)
	}
	return item, nil
}

// List returns the items matching filter, sorted by URI.
func (s *DataStore) List(filter proto.URI) []proto.DataItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]proto.DataItem, 0)
	for uri, item := range s.items {
		if filter.Matches(uri) {
			items = append(items, item)
		}
	}
	sortItems(items)
	return items
}

// Delete removes the items matching filter and returns them.
func (s *DataStore) Delete(filter proto.URI) []proto.DataItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []proto.DataItem
	for uri, item := range s.items {
		if filter.Matches(uri) {
			delete(s.items, uri)
			deleted = append(deleted, item)
		}
	}
	if len(deleted) > 0 {
		s.pruneAssets()
	}
	sortItems(deleted)
	return deleted
}

func (s *DataStore) Asset(digest string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.assets[digest]
	return data, ok
}

func (s *DataStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// pruneAssets drops asset bytes no stored item references. s.mu must be
// held for writing.
func (s *DataStore) pruneAssets() {
	live := make(map[string]struct{})
	for _, item := range s.items {
		env, err := item.Envelope()
		if err != nil {
			continue
		}
		for _, a := range env.Assets() {
			live[a.Digest] = struct{}{}
		}
	}
	for digest := range s.assets {
		if _, ok := live[digest]; !ok {
			delete(s.assets, digest)
		}
	}
}

func sortItems(items []proto.DataItem) {
	slices.SortFunc(items, func(a, b proto.DataItem) int {
		return strings.Compare(a.URI.String(), b.URI.String())
	})
}

type snapshotItem struct {
	_         struct{} `cbor:",toarray"`
	Authority string
	Path      string
	Data      []byte
	Seq       uint64
}

type snapshot struct {
	Seq    uint64            `cbor:"seq"`
	Items  []snapshotItem    `cbor:"items"`
	Assets map[string][]byte `cbor:"assets"`
}

// Snapshot writes the store as zstd-compressed CBOR.
func (s *DataStore) Snapshot(w io.Writer) error {
	s.mu.RLock()
	snap := snapshot{Seq: s.seq, Assets: make(map[string][]byte, len(s.assets))}
	for _, item := range s.items {
		snap.Items = append(snap.Items, snapshotItem{
			Authority: item.URI.Authority,
			Path:      item.URI.Path,
			Data:      item.Data,
			Seq:       item.Seq,
		})
	}
	for digest, data := range s.assets {
		snap.Assets[digest] = data
	}
	s.mu.RUnlock()

	slices.SortFunc(snap.Items, func(a, b snapshotItem) int {
		return strings.Compare(a.Authority+a.Path, b.Authority+b.Path)
	})
	encoded, err := proto.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := zw.Write(encoded); err != nil {
		zw.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return zw.Close()
}

// Restore replaces the store contents with a snapshot written by
// Snapshot.
func (s *DataStore) Restore(r io.Reader) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	encoded, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := proto.Unmarshal(encoded, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	items := make(map[proto.URI]proto.DataItem, len(snap.Items))
	for _, si := range snap.Items {
		uri, err := proto.NewURI(si.Authority, si.Path)
		if err != nil {
			return fmt.Errorf("snapshot item: %w", err)
		}
		items[uri] = proto.DataItem{URI: uri, Data: si.Data, Seq: si.Seq}
	}
	assets := snap.Assets
	if assets == nil {
		assets = make(map[string][]byte)
	}

	s.mu.Lock()
	s.items = items
	s.assets = assets
	s.seq = snap.Seq
	s.mu.Unlock()
	return nil
}

// SaveFile writes a snapshot to path atomically.
func (s *DataStore) SaveFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := s.Snapshot(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFile restores a snapshot from path. A missing file leaves the
// store empty.
func (s *DataStore) LoadFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Restore(f)
}
