package asnlookup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup_NoDatabasesReturnsEmpty(t *testing.T) {
	l := &Lookup{}

	asn, err := l.LookupASN("8.8.8.8")
	require.NoError(t, err)
	require.Empty(t, asn)

	codes, err := l.LookupCountryCodes("8.8.8.8")
	require.NoError(t, err)
	require.Empty(t, codes)
}

func TestOpen_EmptyPathsSkipBothDatabases(t *testing.T) {
	l, err := Open("", "")
	require.NoError(t, err)
	defer l.Close()

	asn, err := l.LookupASN("8.8.8.8")
	require.NoError(t, err)
	require.Empty(t, asn)
}

func TestOpen_MissingFileErrors(t *testing.T) {
	_, err := Open("/nonexistent/asn.mmdb", "")
	require.Error(t, err)
}
