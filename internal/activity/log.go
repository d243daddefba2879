// Package activity implements proxy.ActivityTracker sinks (spec.md §4.7):
// structured logging, GeoIP enrichment, and a durable SQLite log, wired by
// cmd/relayproxy from its enable_geoip/geoip_db_path/activity_db_path
// settings.
package activity

import (
	"log/slog"

	"github.com/denisvmedia/relayproxy/proxy"
)

// LogTracker logs every lifecycle event at Info/Warn via slog, grounded on
// the teacher's LogAddon.
type LogTracker struct {
	log *slog.Logger
}

func NewLogTracker(log *slog.Logger) *LogTracker {
	if log == nil {
		log = slog.Default()
	}
	return &LogTracker{log: log}
}

func (t *LogTracker) RequestReceived(flow *proxy.FlowContext) {
	method, url := "", ""
	if flow.Request != nil {
		method, url = flow.Request.Method, flow.Request.URL
	}
	t.log.Info("request received", "flow_id", flow.FlowID, "method", method, "url", url, "client", flow.ClientAddr)
}

func (t *LogTracker) RequestSent(flow *proxy.FlowContext, upstream string) {
	t.log.Info("request sent", "flow_id", flow.FlowID, "upstream", upstream)
}

func (t *LogTracker) ResponseReceived(flow *proxy.FlowContext) {
	status := 0
	if flow.Response != nil {
		status = flow.Response.StatusCode
	}
	t.log.Info("response received", "flow_id", flow.FlowID, "status", status)
}

func (t *LogTracker) ConnectionFailed(flow *proxy.FlowContext, err error) {
	authority := ""
	if flow != nil {
		authority = flow.Authority
	}
	t.log.Warn("connection failed", "authority", authority, "error", err)
}
