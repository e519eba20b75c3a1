// Package hierarchy builds the canonical Make -> Model tree from curated
// registration years. The tree is the ground truth that uncurated pairs are
// regularized against.
package hierarchy

import "sort"

// Model is a canonical model leaf. FuelTypes and VehicleTypes hold the
// distinct curated-year values seen under this model.
type Model struct {
	Name         string
	FuelTypes    []string
	VehicleTypes []string

	// CuratedRows counts curated-year rows carrying this (make, model);
	// the fuzzy suggester uses it as a frequency prior.
	CuratedRows int64

	fuelSeen    map[string]bool
	vehicleSeen map[string]bool
}

// Make is a canonical make node.
type Make struct {
	Name   string
	Models []*Model

	byModel map[string]*Model
}

// Hierarchy is the immutable canonical tree for a session. A nil or empty
// hierarchy is valid: every lookup degrades to "no canonical match".
type Hierarchy struct {
	Makes []*Make

	byMake map[string]*Make
}

func newHierarchy() *Hierarchy {
	return &Hierarchy{byMake: map[string]*Make{}}
}

// add records one curated row. Duplicate (make, model) leaves collapse into
// a single node; fuel and vehicle type values dedupe under the leaf.
func (h *Hierarchy) add(makeName, modelName, fuelType, vehicleType string) {
	mk, ok := h.byMake[makeName]
	if !ok {
		mk = &Make{Name: makeName, byModel: map[string]*Model{}}
		h.byMake[makeName] = mk
		h.Makes = append(h.Makes, mk)
	}

	md, ok := mk.byModel[modelName]
	if !ok {
		md = &Model{Name: modelName, fuelSeen: map[string]bool{}, vehicleSeen: map[string]bool{}}
		mk.byModel[modelName] = md
		mk.Models = append(mk.Models, md)
	}

	md.CuratedRows++
	if fuelType != "" && !md.fuelSeen[fuelType] {
		md.fuelSeen[fuelType] = true
		md.FuelTypes = append(md.FuelTypes, fuelType)
	}
	if vehicleType != "" && !md.vehicleSeen[vehicleType] {
		md.vehicleSeen[vehicleType] = true
		md.VehicleTypes = append(md.VehicleTypes, vehicleType)
	}
}

// finish sorts the tree for deterministic iteration.
func (h *Hierarchy) finish() {
	sort.Slice(h.Makes, func(i, j int) bool { return h.Makes[i].Name < h.Makes[j].Name })
	for _, mk := range h.Makes {
		sort.Slice(mk.Models, func(i, j int) bool { return mk.Models[i].Name < mk.Models[j].Name })
		for _, md := range mk.Models {
			sort.Strings(md.FuelTypes)
			sort.Strings(md.VehicleTypes)
		}
	}
}

// Empty reports whether the hierarchy has no leaves.
func (h *Hierarchy) Empty() bool {
	return h == nil || len(h.Makes) == 0
}

// Contains reports whether (makeName, modelName) is a canonical leaf.
// Comparison is ordinal; no case folding happens here.
func (h *Hierarchy) Contains(makeName, modelName string) bool {
	_, _, ok := h.Lookup(makeName, modelName)
	return ok
}

// Lookup returns the canonical nodes for an exact (make, model) pair.
func (h *Hierarchy) Lookup(makeName, modelName string) (*Make, *Model, bool) {
	if h == nil {
		return nil, nil, false
	}
	mk, ok := h.byMake[makeName]
	if !ok {
		return nil, nil, false
	}
	md, ok := mk.byModel[modelName]
	if !ok {
		return nil, nil, false
	}
	return mk, md, true
}

// LeafCount returns the number of distinct (make, model) leaves.
func (h *Hierarchy) LeafCount() int {
	if h == nil {
		return 0
	}
	n := 0
	for _, mk := range h.Makes {
		n += len(mk.Models)
	}
	return n
}
