package registry

import (
	"sort"
	"strconv"
)

// Parameter scopes.
const (
	ScopeMaster  = "master"
	ScopeAdapter = "hw_inventory"
	ScopeRouting = "routing_table"
)

// Param is one flattened bootstrap parameter. Index is -1 for master
// scope entries.
type Param struct {
	Scope string `json:"scope"`
	Index int    `json:"index"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// Params flattens the registry into the tuples a transport needs to
// bootstrap: the master client id, one hw_inventory group per adapter and
// one routing_table group per sensor.
func (r *Registry) Params(masterClientID uint32) []Param {
	out := []Param{{Scope: ScopeMaster, Index: -1, Field: "client_id", Value: u(masterClientID)}}
	for _, a := range r.Adapters() {
		out = append(out,
			Param{ScopeAdapter, a.Index, "hw_dev_id", u(a.HWDevID)},
			Param{ScopeAdapter, a.Index, "hw_iface_name", a.IfaceName},
			Param{ScopeAdapter, a.Index, "hw_type", a.Type},
			Param{ScopeAdapter, a.Index, "baudrate", u(a.BaudRate)},
			Param{ScopeAdapter, a.Index, "port", u(a.Port)},
		)
	}
	for _, s := range r.Sensors() {
		out = append(out,
			Param{ScopeRouting, s.Slot, "client_id", u(s.SensorID)},
			Param{ScopeRouting, s.Slot, "dev_id", u(s.DevID)},
			Param{ScopeRouting, s.Slot, "ip", s.IP},
			Param{ScopeRouting, s.Slot, "port", u(s.Port)},
			Param{ScopeRouting, s.Slot, "link_type", s.LinkType},
			Param{ScopeRouting, s.Slot, "variant", string(s.Variant)},
		)
	}
	return out
}

// Route is one routing table row.
type Route struct {
	ClientID uint32 `json:"client_id"`
	IP       string `json:"ip"`
	Port     uint32 `json:"port"`
}

// RoutingTable groups routing_table params back into rows ordered by index.
func RoutingTable(params []Param) []Route {
	rows := map[int]*Route{}
	for _, p := range params {
		if p.Scope != ScopeRouting {
			continue
		}
		row, ok := rows[p.Index]
		if !ok {
			row = &Route{}
			rows[p.Index] = row
		}
		switch p.Field {
		case "client_id":
			row.ClientID = parseU(p.Value)
		case "ip":
			row.IP = p.Value
		case "port":
			row.Port = parseU(p.Value)
		}
	}
	idx := make([]int, 0, len(rows))
	for i := range rows {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]Route, 0, len(idx))
	for _, i := range idx {
		out = append(out, *rows[i])
	}
	return out
}

func u(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func parseU(s string) uint32 {
	v, _ := strconv.ParseUint(s, 10, 32)
	return uint32(v)
}
