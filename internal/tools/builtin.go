package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CurrentTime is the one tool every deployment has; agents opt in by name.
const CurrentTime = "get_current_time"

// RegisterBuiltins adds the in-process tools.
func RegisterBuiltins(r *Registry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	return r.Register(Spec{
		Name:        CurrentTime,
		Description: "Current local date and time, optionally in an IANA time zone such as America/New_York.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string"}}}`),
		Timeout:     time.Second,
	}, func(_ context.Context, args map[string]any) (map[string]any, error) {
		loc := time.Local
		if tz, _ := args["timezone"].(string); tz != "" {
			l, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			loc = l
		}
		t := now().In(loc)
		return map[string]any{
			"time":     t.Format("3:04 PM"),
			"date":     t.Format("Monday, January 2, 2006"),
			"timezone": loc.String(),
		}, nil
	})
}
