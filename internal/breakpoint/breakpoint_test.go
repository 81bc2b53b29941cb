package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureFileIdentityInterns(t *testing.T) {
	s := New()
	a := s.EnsureFileIdentity("test.nut")
	b := s.EnsureFileIdentity("test.nut")
	require.Same(t, a, b, "repeated EnsureFileIdentity must return the same handle")
}

func TestFindFileIdentityBeforeEnsureIsNil(t *testing.T) {
	s := New()
	require.Nil(t, s.FindFileIdentity("never-seen.nut"))
}

func TestAddAllReplacesByLine(t *testing.T) {
	s := New()
	fi := s.EnsureFileIdentity("test.nut")

	s.AddAll(fi, []Breakpoint{{Id: 1, Line: 10}})
	s.AddAll(fi, []Breakpoint{{Id: 2, Line: 10}})

	bp, ok := s.Lookup(fi, 10)
	require.True(t, ok)
	require.Equal(t, uint64(2), bp.Id, "second add on the same line must replace the first")
}

func TestClearEmptiesFile(t *testing.T) {
	s := New()
	fi := s.EnsureFileIdentity("test.nut")
	s.AddAll(fi, []Breakpoint{{Id: 1, Line: 10}})

	s.Clear(fi)

	_, ok := s.Lookup(fi, 10)
	require.False(t, ok)
}

func TestLookupIsolatesFiles(t *testing.T) {
	s := New()
	a := s.EnsureFileIdentity("a.nut")
	b := s.EnsureFileIdentity("b.nut")
	s.AddAll(a, []Breakpoint{{Id: 1, Line: 5}})

	_, ok := s.Lookup(b, 5)
	require.False(t, ok, "breakpoints in one file must not be visible through another file's identity")
}
