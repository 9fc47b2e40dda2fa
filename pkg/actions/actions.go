// Package actions defines the catalog of remediation action symbols and the
// static read/write classification the scheduler gates on.
package actions

// Kind partitions the action set. Every action is exactly one of read or
// write; the partition is total and disjoint.
type Kind string

const (
	// KindRead marks actions that do not change any external system state.
	KindRead Kind = "read"
	// KindWrite marks actions with external side effects.
	KindWrite Kind = "write"
)

// Read actions: collection, enrichment, and passive queries.
const (
	ActionCollectLogs           = "collect_logs"
	ActionQuerySIEM             = "query_siem"
	ActionCollectNetworkTraffic = "collect_network_traffic"
	ActionSnapshotMemory        = "snapshot_memory"
	ActionCollectFileMetadata   = "collect_file_metadata"
	ActionEnrichIOC             = "enrich_ioc"
	ActionCheckReputation       = "check_reputation"
	ActionQueryThreatFeed       = "query_threat_feed"
	ActionRetrieveEDRData       = "retrieve_edr_data"
	ActionCalculateHash         = "calculate_hash"
	ActionHTTPRequest           = "http_request"
	ActionWait                  = "wait"
)

// Write actions: containment, eradication, identity, ticketing, notification.
const (
	ActionIsolateHost         = "isolate_host"
	ActionRestoreConnectivity = "restore_connectivity"
	ActionBlockIP             = "block_ip"
	ActionUnblockIP           = "unblock_ip"
	ActionBlockDomain         = "block_domain"
	ActionDisableAccount      = "disable_account"
	ActionEnableAccount       = "enable_account"
	ActionResetPassword       = "reset_password"
	ActionRevokeSessions      = "revoke_sessions"
	ActionQuarantineFile      = "quarantine_file"
	ActionRestoreFile         = "restore_file"
	ActionKillProcess         = "kill_process"
	ActionStartEDRScan        = "start_edr_scan"
	ActionRemovePersistence   = "remove_persistence"
	ActionUpdateFirewallRule  = "update_firewall_rule"
	ActionCreateTicket        = "create_ticket"
	ActionUpdateTicket        = "update_ticket"
	ActionCloseTicket         = "close_ticket"
	ActionNotifyEmail         = "notify_email"
	ActionNotifySlack         = "notify_slack"
	ActionNotifyPagerDuty     = "notify_pagerduty"
	ActionEscalateIncident    = "escalate_incident"
	ActionAddToWatchlist      = "add_to_watchlist"
)

var readActions = map[string]struct{}{
	ActionCollectLogs:           {},
	ActionQuerySIEM:             {},
	ActionCollectNetworkTraffic: {},
	ActionSnapshotMemory:        {},
	ActionCollectFileMetadata:   {},
	ActionEnrichIOC:             {},
	ActionCheckReputation:       {},
	ActionQueryThreatFeed:       {},
	ActionRetrieveEDRData:       {},
	ActionCalculateHash:         {},
	ActionHTTPRequest:           {},
	ActionWait:                  {},
}

var writeActions = map[string]struct{}{
	ActionIsolateHost:         {},
	ActionRestoreConnectivity: {},
	ActionBlockIP:             {},
	ActionUnblockIP:           {},
	ActionBlockDomain:         {},
	ActionDisableAccount:      {},
	ActionEnableAccount:       {},
	ActionResetPassword:       {},
	ActionRevokeSessions:      {},
	ActionQuarantineFile:      {},
	ActionRestoreFile:         {},
	ActionKillProcess:         {},
	ActionStartEDRScan:        {},
	ActionRemovePersistence:   {},
	ActionUpdateFirewallRule:  {},
	ActionCreateTicket:        {},
	ActionUpdateTicket:        {},
	ActionCloseTicket:         {},
	ActionNotifyEmail:         {},
	ActionNotifySlack:         {},
	ActionNotifyPagerDuty:     {},
	ActionEscalateIncident:    {},
	ActionAddToWatchlist:      {},
}

// IsKnown reports whether the symbol belongs to the action catalog.
func IsKnown(action string) bool {
	if _, ok := readActions[action]; ok {
		return true
	}
	_, ok := writeActions[action]
	return ok
}

// Classify returns the kind of a known action. The second return value is
// false for symbols outside the catalog.
func Classify(action string) (Kind, bool) {
	if _, ok := readActions[action]; ok {
		return KindRead, true
	}
	if _, ok := writeActions[action]; ok {
		return KindWrite, true
	}
	return "", false
}

// IsRead reports whether the action is classified read-only.
func IsRead(action string) bool {
	_, ok := readActions[action]
	return ok
}

// IsWrite reports whether the action is classified as a write.
func IsWrite(action string) bool {
	_, ok := writeActions[action]
	return ok
}

// All returns every known action symbol. The slice is freshly allocated.
func All() []string {
	out := make([]string, 0, len(readActions)+len(writeActions))
	for a := range readActions {
		out = append(out, a)
	}
	for a := range writeActions {
		out = append(out, a)
	}
	return out
}
