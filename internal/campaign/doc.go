// Package campaign orchestrates outreach campaigns: it turns a discovery
// request into a scored, tier-balanced set of assigned candidates, drives
// the initial dispatch, evaluates scheduled check-ins, escalates campaigns
// that fall behind and moves each campaign through
// forming → active → {quota_met | closed_stalled | cancelled}.
//
// Every mutation of a single campaign runs under a per-campaign lock, so
// assignment, milestone evaluation and quota transitions never race.
package campaign
