package snapshot

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, dir string, clk clock.Clock) *Store {
	t.Helper()
	s, err := Open(Options{Dir: dir, TTL: time.Hour, Clock: clk, RuleSet: rsOpts})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestStore_EmptyIsMiss(t *testing.T) {
	s := openStore(t, t.TempDir(), clock.NewMockClock(t0))
	assert.Equal(t, FileName, filepath.Base(s.Path()))

	rs, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Nil(t, rs)
	_, err = s.Meta()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_SaveLoad(t *testing.T) {
	clk := clock.NewMockClock(t0)
	s := openStore(t, t.TempDir(), clk)
	want := sampleRuleSet(t)
	require.NoError(t, s.Save(want))

	m, err := s.Meta()
	require.NoError(t, err)
	assert.Equal(t, uint64(FormatVersion), m.Version)
	assert.True(t, m.SavedAt.Equal(t0))
	assert.Positive(t, m.Size)

	clk.Advance(59 * time.Minute)
	got, err := s.Load()
	require.NoError(t, err)
	assertEquivalent(t, want, got)

	clk.Advance(time.Minute)
	_, err = s.Load()
	assert.ErrorIs(t, err, ErrStale)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clk := clock.NewMockClock(t0)
	want := sampleRuleSet(t)

	s, err := Open(Options{Dir: dir, TTL: time.Hour, Clock: clk, RuleSet: rsOpts})
	require.NoError(t, err)
	require.NoError(t, s.Save(want))
	require.NoError(t, s.Close())

	s = openStore(t, dir, clk)
	got, err := s.Load()
	require.NoError(t, err)
	assertEquivalent(t, want, got)
}

func TestStore_VersionMismatch(t *testing.T) {
	s := openStore(t, t.TempDir(), clock.NewMockClock(t0))
	require.NoError(t, s.Save(sampleRuleSet(t)))

	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, 99)
		return tx.Bucket(bucketMeta).Put(keyVersion, v)
	}))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestStore_CorruptSnapshotIsMiss(t *testing.T) {
	s := openStore(t, t.TempDir(), clock.NewMockClock(t0))
	require.NoError(t, s.Save(sampleRuleSet(t)))

	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keyRules, []byte("not a snapshot"))
	}))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrBadMagic)

	require.NoError(t, s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Delete(keySaved)
	}))
	_, err = s.Load()
	assert.Error(t, err)
}

func TestOpen_MovesCorruptFileAside(t *testing.T) {
	dir := t.TempDir()
	junk := bytes.Repeat([]byte("junk"), 8192)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), junk, 0o600))

	s := openStore(t, dir, clock.NewMockClock(t0))
	_, err := s.Load()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	aside, err := filepath.Glob(filepath.Join(dir, FileName+".corrupt-*"))
	require.NoError(t, err)
	require.Len(t, aside, 1)
	b, err := os.ReadFile(aside[0])
	require.NoError(t, err)
	assert.Equal(t, junk, b)

	require.NoError(t, s.Save(sampleRuleSet(t)))
	_, err = s.Load()
	assert.NoError(t, err)
}
