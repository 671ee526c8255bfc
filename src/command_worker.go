package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gg582/ecodemand/src/governor"
)

// tunableUpdate is a partial tunables document: absent fields keep
// their current values.
type tunableUpdate struct {
	UpThreshold        *uint `json:"up_threshold"`
	DownThreshold      *uint `json:"down_threshold"`
	FreqStep           *uint `json:"freq_step"`
	SamplingRateMs     *uint `json:"sampling_rate_ms"`
	SamplingDownFactor *uint `json:"sampling_down_factor"`
	PowersaveBias      *int  `json:"powersave_bias"`
}

// mergeTunables overlays a partial JSON update onto the current
// settings and validates the result. Unknown fields are rejected so a
// typoed tunable name fails loudly instead of silently changing
// nothing.
func mergeTunables(cur governor.Tunables, raw []byte) (governor.Tunables, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var upd tunableUpdate
	if err := dec.Decode(&upd); err != nil {
		return governor.Tunables{}, err
	}

	if upd.UpThreshold != nil {
		cur.UpThreshold = *upd.UpThreshold
	}
	if upd.DownThreshold != nil {
		cur.DownThreshold = *upd.DownThreshold
	}
	if upd.FreqStep != nil {
		cur.FreqStep = *upd.FreqStep
	}
	if upd.SamplingRateMs != nil {
		cur.SamplingRate = time.Duration(*upd.SamplingRateMs) * time.Millisecond
	}
	if upd.SamplingDownFactor != nil {
		cur.SamplingDownFactor = *upd.SamplingDownFactor
	}
	if upd.PowersaveBias != nil {
		cur.PowersaveBias = *upd.PowersaveBias
	}
	return cur, cur.Validate()
}

// tunablesTopicDomain extracts the domain selector from a tunables
// command topic of the form ecodemand/<domain>/tunables/set.
func tunablesTopicDomain(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "ecodemand" || parts[2] != "tunables" || parts[3] != "set" {
		return "", false
	}
	if parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// commandWorker applies inbound MQTT control messages: tunable updates
// per domain or for all of them, and the actuation switch.
func commandWorker(
	ctx context.Context,
	cmdChan <-chan CommandMessage,
	table *DomainTable,
	gate *gatedActuator,
	sender *MQTTSender,
) {
	for {
		select {
		case cmd := <-cmdChan:
			handleCommand(cmd, table, gate, sender)
		case <-ctx.Done():
			return
		}
	}
}

func handleCommand(cmd CommandMessage, table *DomainTable, gate *gatedActuator, sender *MQTTSender) {
	if cmd.Topic == TopicEnabledSet {
		switch strings.ToUpper(strings.TrimSpace(cmd.Payload)) {
		case "ON":
			gate.SetEnabled(true)
		case "OFF":
			gate.SetEnabled(false)
		default:
			log.Printf("Ignoring switch payload %q\n", cmd.Payload)
			return
		}
		sender.PublishEnabledState(gate.Enabled())
		return
	}

	selector, ok := tunablesTopicDomain(cmd.Topic)
	if !ok {
		log.Printf("Ignoring message on unexpected topic %s\n", cmd.Topic)
		return
	}

	domains, err := table.Resolve(selector)
	if err != nil {
		log.Printf("Tunable update rejected: %v\n", err)
		return
	}

	for _, d := range domains {
		snap := d.Snapshot()
		merged, err := mergeTunables(snap.Tunables, []byte(cmd.Payload))
		if err != nil {
			log.Printf("Tunable update for %s rejected: %v\n", snap.Policy.ID, err)
			continue
		}
		if err := d.Reconfigure(merged); err != nil {
			log.Printf("Tunable update for %s failed: %v\n", snap.Policy.ID, err)
			continue
		}
		log.Printf("Tunables updated for %s: %s\n", snap.Policy.ID, strings.TrimSpace(cmd.Payload))
	}
}

// DomainTable is the set of managed adaptive domains, keyed by policy
// ID, with a stable sorted order for display. It is built once at
// startup and read-only afterwards.
type DomainTable struct {
	byID map[string]*governor.Domain
	ids  []string
}

func NewDomainTable() *DomainTable {
	return &DomainTable{byID: make(map[string]*governor.Domain)}
}

// Add registers a domain. Must happen before the workers start.
func (t *DomainTable) Add(id string, d *governor.Domain) {
	t.byID[id] = d
	t.ids = insertSorted(t.ids, id)
}

func insertSorted(ids []string, id string) []string {
	for i, existing := range ids {
		if id < existing {
			return append(ids[:i], append([]string{id}, ids[i:]...)...)
		}
	}
	return append(ids, id)
}

// Get looks up one domain.
func (t *DomainTable) Get(id string) (*governor.Domain, bool) {
	d, ok := t.byID[id]
	return d, ok
}

// IDs returns the managed domain names in sorted order.
func (t *DomainTable) IDs() []string {
	return t.ids
}

// Len returns the number of managed domains.
func (t *DomainTable) Len() int {
	return len(t.ids)
}

// Resolve maps a selector to domains: "all" means every managed
// domain, anything else names exactly one.
func (t *DomainTable) Resolve(selector string) ([]*governor.Domain, error) {
	if selector == "all" {
		domains := make([]*governor.Domain, 0, len(t.ids))
		for _, id := range t.ids {
			domains = append(domains, t.byID[id])
		}
		return domains, nil
	}
	d, ok := t.byID[selector]
	if !ok {
		return nil, fmt.Errorf("unknown domain %q", selector)
	}
	return []*governor.Domain{d}, nil
}
