package filters

import (
	"sort"
	"strings"

	"netflow-console/internal/model"
)

const (
	srcPrefix = "src_"
	dstPrefix = "dst_"
)

// Encoder renders filter values into a predicate fragment understood by the backend
type Encoder func(values []string, matchAny, not bool) string

// Definition describes a filterable field
type Definition struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Field string `json:"field" yaml:"field"`
	// Overlap marks definitions whose value sets can be compared to cancel
	// or exclude the overlap between a query and its swapped counterpart.
	Overlap bool `json:"overlap" yaml:"overlap"`
	// SwapID overrides the src_/dst_ naming convention when set
	SwapID  string  `json:"swapId,omitempty" yaml:"swap_id,omitempty"`
	Encoder Encoder `json:"-" yaml:"-"`
}

// Encode renders values with the definition encoder
func (d *Definition) Encode(values []string, matchAny, not bool) string {
	if d.Encoder == nil {
		return FieldEncoder(d.Field)(values, matchAny, not)
	}
	return d.Encoder(values, matchAny, not)
}

// FieldEncoder returns an encoder producing Field=v1,v2 or Field!=v1,v2
func FieldEncoder(field string) Encoder {
	return func(values []string, _ bool, not bool) string {
		op := "="
		if not {
			op = "!="
		}
		return field + op + strings.Join(values, ",")
	}
}

// Registry resolves filter ids to their definitions
type Registry struct {
	defs  map[string]*Definition
	order []string
}

// NewRegistry creates a registry holding the given definitions
func NewRegistry(defs ...*Definition) *Registry {
	r := &Registry{
		defs: make(map[string]*Definition, len(defs)),
	}
	for _, def := range defs {
		r.Register(def)
	}
	return r
}

// Register adds or replaces a definition
func (r *Registry) Register(def *Definition) {
	if _, exists := r.defs[def.ID]; !exists {
		r.order = append(r.order, def.ID)
	}
	r.defs[def.ID] = def
}

// Find returns the definition for an id
func (r *Registry) Find(id string) (*Definition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// All returns definitions in registration order
func (r *Registry) All() []*Definition {
	result := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.defs[id])
	}
	return result
}

// IDs returns the sorted list of registered ids
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SwapOf returns the definition with source and destination roles exchanged
func (r *Registry) SwapOf(def *Definition) (*Definition, bool) {
	if def.SwapID != "" {
		return r.Find(def.SwapID)
	}
	switch {
	case strings.HasPrefix(def.ID, srcPrefix):
		return r.Find(dstPrefix + strings.TrimPrefix(def.ID, srcPrefix))
	case strings.HasPrefix(def.ID, dstPrefix):
		return r.Find(srcPrefix + strings.TrimPrefix(def.ID, dstPrefix))
	}
	return nil, false
}

type directional struct {
	id       string
	name     string
	srcField string
	dstField string
	overlap  bool
}

// Addresses are matched as CIDRs, ports as ranges: comparing their value
// sets says nothing about the flows they select, so they opt out of overlap.
var directionalFields = []directional{
	{id: "namespace", name: "Namespace", srcField: model.FieldSrcNamespace, dstField: model.FieldDstNamespace, overlap: true},
	{id: "name", name: "Name", srcField: model.FieldSrcName, dstField: model.FieldDstName, overlap: true},
	{id: "kind", name: "Kind", srcField: model.FieldSrcType, dstField: model.FieldDstType, overlap: true},
	{id: "owner_name", name: "Owner Name", srcField: model.FieldSrcOwnerName, dstField: model.FieldDstOwnerName, overlap: true},
	{id: "host_name", name: "Node Name", srcField: model.FieldSrcHostName, dstField: model.FieldDstHostName, overlap: true},
	{id: "zone", name: "Zone", srcField: model.FieldSrcZone, dstField: model.FieldDstZone, overlap: true},
	{id: "subnet_label", name: "Subnet Label", srcField: model.FieldSrcSubnet, dstField: model.FieldDstSubnet, overlap: true},
	{id: "mac", name: "MAC", srcField: model.FieldSrcMac, dstField: model.FieldDstMac, overlap: true},
	{id: "address", name: "IP", srcField: model.FieldSrcAddr, dstField: model.FieldDstAddr, overlap: false},
	{id: "port", name: "Port", srcField: model.FieldSrcPort, dstField: model.FieldDstPort, overlap: false},
}

// DefaultRegistry returns the built-in flow filter definitions
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range directionalFields {
		r.Register(&Definition{
			ID:      srcPrefix + d.id,
			Name:    "Source " + d.name,
			Field:   d.srcField,
			Overlap: d.overlap,
			Encoder: FieldEncoder(d.srcField),
		})
		r.Register(&Definition{
			ID:      dstPrefix + d.id,
			Name:    "Destination " + d.name,
			Field:   d.dstField,
			Overlap: d.overlap,
			Encoder: FieldEncoder(d.dstField),
		})
	}

	r.Register(&Definition{ID: "protocol", Name: "Protocol", Field: model.FieldProto, Overlap: true, Encoder: FieldEncoder(model.FieldProto)})
	r.Register(&Definition{ID: "dscp", Name: "DSCP", Field: model.FieldDscp, Overlap: true, Encoder: FieldEncoder(model.FieldDscp)})
	r.Register(&Definition{ID: "direction", Name: "Direction", Field: model.FieldDirection, Overlap: true, Encoder: FieldEncoder(model.FieldDirection)})
	r.Register(&Definition{ID: "cluster_name", Name: "Cluster", Field: model.FieldCluster, Overlap: true, Encoder: FieldEncoder(model.FieldCluster)})
	// interface names are matched partially
	r.Register(&Definition{ID: "interface", Name: "Interface", Field: model.FieldInterface, Overlap: false, Encoder: FieldEncoder(model.FieldInterface)})

	return r
}
