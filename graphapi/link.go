package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Link is an entry of a UI-format workflow's link table. It connects an output
// slot of the origin node to an input slot of the target node.
type Link struct {
	ID         int
	OriginID   int
	OriginSlot int
	TargetID   int
	TargetSlot int
	Type       string
}

func (l *Link) UnmarshalJSON(b []byte) error {
	// Try to unmarshal as array (tuple format) first
	var tmp []interface{}
	if err := json.Unmarshal(b, &tmp); err == nil {
		if len(tmp) < 5 {
			return errors.New("wrong number of fields in JSON array")
		}

		fields := make([]int, 5)
		for i := range fields {
			f, ok := tmp[i].(float64)
			if !ok {
				return fmt.Errorf("link field %d is not a number", i)
			}
			fields[i] = int(f)
		}
		l.ID = fields[0]
		l.OriginID = fields[1]
		l.OriginSlot = fields[2]
		l.TargetID = fields[3]
		l.TargetSlot = fields[4]
		if len(tmp) > 5 {
			l.Type, _ = tmp[5].(string)
		}

		return nil
	}

	// Try to unmarshal as object (subgraph format)
	var obj struct {
		ID         int    `json:"id"`
		OriginID   int    `json:"origin_id"`
		OriginSlot int    `json:"origin_slot"`
		TargetID   int    `json:"target_id"`
		TargetSlot int    `json:"target_slot"`
		Type       string `json:"type"`
	}

	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}

	l.ID = obj.ID
	l.OriginID = obj.OriginID
	l.OriginSlot = obj.OriginSlot
	l.TargetID = obj.TargetID
	l.TargetSlot = obj.TargetSlot
	l.Type = obj.Type

	return nil
}
