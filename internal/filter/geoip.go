// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindLocator backs GeoLocator/ASNLocator with a real MaxMind
// GeoLite2/GeoIP2 database, the production adapter for
// geoloc_notfound/asn_notfound. The database file itself is an
// external collaborator this module doesn't ship; callers open one
// with OpenMaxMindCity/OpenMaxMindASN and wire it into Options.Geo/Asn
// in place of NoopLocator.
type MaxMindLocator struct {
	db  *geoip2.Reader
	asn bool
}

// OpenMaxMindCity opens a GeoLite2-City/GeoIP2-City database for use as
// a GeoLocator.
func OpenMaxMindCity(path string) (*MaxMindLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindLocator{db: db}, nil
}

// OpenMaxMindASN opens a GeoLite2-ASN/GeoIP2-ISP database for use as an
// ASNLocator.
func OpenMaxMindASN(path string) (*MaxMindLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindLocator{db: db, asn: true}, nil
}

// Lookup reports whether ip resolves to a known entry in the open
// database, satisfying both GeoLocator and ASNLocator.
func (m *MaxMindLocator) Lookup(ip net.IP) bool {
	if m.asn {
		rec, err := m.db.ASN(ip)
		return err == nil && rec.AutonomousSystemNumber != 0
	}
	rec, err := m.db.City(ip)
	return err == nil && rec.Country.GeoNameID != 0
}

// Close releases the underlying database's memory-mapped file.
func (m *MaxMindLocator) Close() error {
	return m.db.Close()
}
