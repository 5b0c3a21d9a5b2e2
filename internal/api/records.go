package api

import "encoding/json"

// Achievement is a remote achievement definition. Raw keeps the full document
// for callers that need fields beyond the ones decoded here.
type Achievement struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

func (a *Achievement) UnmarshalJSON(b []byte) error {
	type plain Achievement
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Achievement(p)
	a.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type ProgressRecord struct {
	AchievementID   string          `json:"achievementId"`
	PercentComplete float64         `json:"percentComplete"`
	IsComplete      bool            `json:"isComplete,omitempty"`
	Raw             json.RawMessage `json:"-"`
}

func (p *ProgressRecord) UnmarshalJSON(b []byte) error {
	type plain ProgressRecord
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = ProgressRecord(v)
	p.Raw = append(json.RawMessage(nil), b...)
	return nil
}
