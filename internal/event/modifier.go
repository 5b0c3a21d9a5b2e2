package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type Operation string

const (
	OpInc  Operation = "INC"
	OpDec  Operation = "DEC"
	OpMult Operation = "MULT"
	OpDiv  Operation = "DIV"
	OpSet  Operation = "SET"
	OpMin  Operation = "MIN"
	OpMax  Operation = "MAX"
)

var wireKeys = map[Operation]string{
	OpInc:  "@inc",
	OpDec:  "@dec",
	OpMult: "@mult",
	OpDiv:  "@div",
	OpSet:  "@set",
	OpMin:  "@min",
	OpMax:  "@max",
}

func (op Operation) Valid() bool {
	_, ok := wireKeys[op]
	return ok
}

// Modifier tells the remote how to adjust the subject's counter for the event key.
type Modifier struct {
	Operation Operation
	Value     float64
}

func Inc(n float64) Modifier { return Modifier{Operation: OpInc, Value: n} }

func (m Modifier) validate() error {
	if !m.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", m.Operation)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("non-finite modifier value")
	}
	return nil
}

// MarshalJSON renders the remote's form, e.g. {"@inc":1}.
func (m Modifier) MarshalJSON() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]float64{wireKeys[m.Operation]: m.Value})
}

func (m *Modifier) UnmarshalJSON(b []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("modifier must have exactly one operation, got %d", len(raw))
	}
	for k, v := range raw {
		for op, key := range wireKeys {
			if strings.EqualFold(k, key) {
				m.Operation = op
				m.Value = v
				return nil
			}
		}
		return fmt.Errorf("unknown modifier operation %q", k)
	}
	return nil
}
