package types

import (
	"bytes"
	"encoding/json"
)

// NeutralComponent is the value assumed for any affect component with no data.
const NeutralComponent = 0.5

// NeutralTrust is the trust score assumed when none has been derived yet.
const NeutralTrust = 0.5

// AffectVector is the fixed-schema emotional-state snapshot attached to a log entry.
// Components are nominally in [0,1] but are not clamped.
type AffectVector struct {
	Vulnerability float64 `json:"vuln"`
	Confusion     float64 `json:"conf"`
	Trust         float64 `json:"trust"`
	Admiration    float64 `json:"adm"`
	Grief         float64 `json:"grief"`
	Happiness     float64 `json:"hap"`
	Fear          float64 `json:"fear"`
	Courage       float64 `json:"cour"`
}

// AffectComponent is one named dimension of an AffectVector.
type AffectComponent struct {
	Key   string
	Label string
	Value float64
}

// NeutralAffect returns the vector with every component at 0.5.
func NeutralAffect() AffectVector {
	return AffectVector{
		Vulnerability: NeutralComponent,
		Confusion:     NeutralComponent,
		Trust:         NeutralComponent,
		Admiration:    NeutralComponent,
		Grief:         NeutralComponent,
		Happiness:     NeutralComponent,
		Fear:          NeutralComponent,
		Courage:       NeutralComponent,
	}
}

// Components lists the vector's dimensions in their canonical order.
func (a AffectVector) Components() []AffectComponent {
	return []AffectComponent{
		{Key: "vuln", Label: "Vulnerability", Value: a.Vulnerability},
		{Key: "conf", Label: "Confusion", Value: a.Confusion},
		{Key: "trust", Label: "Trust", Value: a.Trust},
		{Key: "adm", Label: "Admiration", Value: a.Admiration},
		{Key: "grief", Label: "Grief", Value: a.Grief},
		{Key: "hap", Label: "Happiness", Value: a.Happiness},
		{Key: "fear", Label: "Fear", Value: a.Fear},
		{Key: "cour", Label: "Courage", Value: a.Courage},
	}
}

// UnmarshalJSON decodes a vector; null yields the neutral vector and any
// missing component is filled with 0.5.
func (a *AffectVector) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*a = NeutralAffect()
		return nil
	}
	var raw map[string]*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pick := func(key string) float64 {
		if v, ok := raw[key]; ok && v != nil {
			return *v
		}
		return NeutralComponent
	}
	*a = AffectVector{
		Vulnerability: pick("vuln"),
		Confusion:     pick("conf"),
		Trust:         pick("trust"),
		Admiration:    pick("adm"),
		Grief:         pick("grief"),
		Happiness:     pick("hap"),
		Fear:          pick("fear"),
		Courage:       pick("cour"),
	}
	return nil
}
