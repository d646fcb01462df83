package calendar

import (
	"time"

	"github.com/emersion/go-ical"
)

// event is a recurring event and its exceptions: they all share the same UID
type event struct {
	uid        string
	components []*ical.Component
}

func groupEvents(cal *ical.Calendar) []*event {
	events := make([]*event, 0)
	byUID := make(map[string]*event)
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		uid, _ := child.Props.Text(ical.PropUID)
		if uid == "" {
			// not grouped
			events = append(events, &event{components: []*ical.Component{child}})
			continue
		}
		if found, ok := byUID[uid]; ok {
			found.components = append(found.components, child)
			continue
		}
		e := &event{uid: uid, components: []*ical.Component{child}}
		byUID[uid] = e
		events = append(events, e)
	}
	return events
}

// modified is the most recent LAST-MODIFIED (or DTSTAMP) of the components
func (e *event) modified() time.Time {
	var latest time.Time
	for _, component := range e.components {
		stamp := componentTime(component, ical.PropLastModified)
		if stamp.IsZero() {
			stamp = componentTime(component, ical.PropDateTimeStamp)
		}
		if stamp.After(latest) {
			latest = stamp
		}
	}
	return latest
}

func (e *event) summary() string {
	for _, component := range e.components {
		if summary, err := component.Props.Text(ical.PropSummary); err == nil && summary != "" {
			return summary
		}
	}
	return ""
}

func componentTime(component *ical.Component, name string) time.Time {
	prop := component.Props.Get(name)
	if prop == nil {
		return time.Time{}
	}
	value, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}
	}
	return value
}
