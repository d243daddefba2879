package activity

import (
	"log/slog"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/denisvmedia/relayproxy/proxy"
)

// GeoIPTracker enriches request-received events with the client's country,
// looked up from a MaxMind GeoLite2-format database (Config.GeoIPDBPath).
// Grounded on Resin's use of oschwald/maxminddb-golang.
type GeoIPTracker struct {
	db  *maxminddb.Reader
	log *slog.Logger
}

// NewGeoIPTracker opens the database at path. Callers should Close it on
// shutdown.
func NewGeoIPTracker(path string, log *slog.Logger) (*GeoIPTracker, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &GeoIPTracker{db: db, log: log}, nil
}

func (t *GeoIPTracker) Close() error { return t.db.Close() }

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

func (t *GeoIPTracker) RequestReceived(flow *proxy.FlowContext) {
	host, _, err := net.SplitHostPort(flow.ClientAddr.String())
	if err != nil {
		host = flow.ClientAddr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return
	}

	var rec countryRecord
	if err := t.db.Lookup(ip, &rec); err != nil {
		t.log.Debug("geoip lookup failed", "ip", host, "error", err)
		return
	}
	t.log.Info("request received", "flow_id", flow.FlowID, "client_country", rec.Country.ISOCode)
}

func (t *GeoIPTracker) RequestSent(*proxy.FlowContext, string)    {}
func (t *GeoIPTracker) ResponseReceived(*proxy.FlowContext)       {}
func (t *GeoIPTracker) ConnectionFailed(*proxy.FlowContext, error) {}
