package stores

import (
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-stores/layering"
)

// Trace captures, for each scope on the chain, how it contributed to the value
// read for a key.
type Trace struct {
	Key    string       `json:"key"`
	Layers []Provenance `json:"layers"`
}

// Provenance details one scope's layer in a trace. Layer is "formula",
// "state" or "data".
type Provenance struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	Depth   int    `json:"depth"`
	Layer   string `json:"layer"`
	Path    string `json:"path"`
	Value   any    `json:"value,omitempty"`
	Found   bool   `json:"found"`
}

// Effective returns the layer a read resolves to: the nearest formula, else
// the first layer holding the key.
func (t Trace) Effective() (Provenance, bool) {
	for _, layer := range t.Layers {
		if layer.Found && layer.Layer == "formula" {
			return layer, true
		}
	}
	for _, layer := range t.Layers {
		if layer.Found {
			return layer, true
		}
	}
	return Provenance{}, false
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}

// Trace reports, leaf to root, whether each scope's formula, state and data
// layers declare key and with what value. Formulas are reported but not run.
func (s *Scope) Trace(key any) (Trace, error) {
	if !ValidKey(key) {
		return Trace{}, opError("trace", s, key, ErrInvalidKey)
	}
	if err := s.check("trace", key); err != nil {
		return Trace{}, err
	}
	root, err := Prefix(key)
	if err != nil {
		return Trace{}, opError("trace", s, key, err)
	}
	tail := pathTail(key)
	path := fmt.Sprint(key)
	if str, ok := key.(string); ok {
		path = str
	}

	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()

	trace := Trace{Key: path}
	for current := s; current != nil; current = current.parent {
		base := Provenance{Scope: current.Tag(), ScopeID: current.ID(), Depth: current.depth, Path: path}

		formula := base
		formula.Layer = "formula"
		_, formula.Found = current.formulas[root]
		trace.Layers = append(trace.Layers, formula)

		for _, named := range []struct {
			name  layerName
			layer *layer
		}{{layerState, current.state}, {layerData, current.data}} {
			entry := base
			entry.Layer = named.name.String()
			if value, ok := named.layer.own[root]; ok {
				entry.Found = true
				entry.Value = value
				if tail != nil {
					entry.Value, entry.Found = layering.GetPath(value, tail)
				}
			}
			trace.Layers = append(trace.Layers, entry)
		}
	}
	return trace, nil
}
