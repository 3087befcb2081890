// Package asnlookup provides the concrete MaxMind-backed ASN/country
// lookup used during trace parsing and by internal/pop's optional country
// enrichment. Grounded on
// inettopology_popmap/data/preprocess.py's MaxMindGeoIPReader, which wraps
// pygeoip's org_by_addr/country_code_by_addr pair over a single mmdb file.
package asnlookup

import (
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"
)

// Lookup resolves an IP address to its announcing ASN and ISO country
// code using MaxMind GeoLite2 ASN and Country databases. Both database
// handles are optional independently; a nil handle makes the
// corresponding lookup report "unknown" rather than erroring, matching
// the original's behavior of logging and continuing when a database
// wasn't supplied.
type Lookup struct {
	asnDB     *geoip2.Reader
	countryDB *geoip2.Reader
}

// Open loads the ASN and/or country mmdb files at the given paths. Either
// path may be empty to skip that lookup entirely.
func Open(asnDBPath, countryDBPath string) (*Lookup, error) {
	l := &Lookup{}
	if asnDBPath != "" {
		db, err := geoip2.Open(asnDBPath)
		if err != nil {
			return nil, fmt.Errorf("asnlookup: opening ASN database %s: %w", asnDBPath, err)
		}
		l.asnDB = db
	}
	if countryDBPath != "" {
		db, err := geoip2.Open(countryDBPath)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("asnlookup: opening country database %s: %w", countryDBPath, err)
		}
		l.countryDB = db
	}
	return l, nil
}

func (l *Lookup) Close() error {
	var err error
	if l.asnDB != nil {
		err = l.asnDB.Close()
	}
	if l.countryDB != nil {
		if cerr := l.countryDB.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LookupASN resolves ip to its announcing ASN as a decimal string, or ""
// if no ASN database is loaded or the address isn't covered by it.
func (l *Lookup) LookupASN(ip string) (string, error) {
	if l.asnDB == nil {
		return "", nil
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("asnlookup: invalid IP %q", ip)
	}
	record, err := l.asnDB.ASN(addr)
	if err != nil {
		return "", nil
	}
	if record.AutonomousSystemNumber == 0 {
		return "", nil
	}
	return strconv.FormatUint(uint64(record.AutonomousSystemNumber), 10), nil
}

// LookupCountryCodes satisfies internal/pop.CountryLookup: the reduced
// single-address model here always resolves to at most one ISO code, but
// the interface returns a slice to leave room for multi-source enrichment.
func (l *Lookup) LookupCountryCodes(ip string) ([]string, error) {
	if l.countryDB == nil {
		return nil, nil
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return nil, fmt.Errorf("asnlookup: invalid IP %q", ip)
	}
	record, err := l.countryDB.Country(addr)
	if err != nil {
		return nil, nil
	}
	if record.Country.IsoCode == "" {
		return nil, nil
	}
	return []string{record.Country.IsoCode}, nil
}
