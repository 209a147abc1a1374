package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntitySensorReading names the reading entity in validation errors
const EntitySensorReading = "SensorReading"

// SensorReading is one timestamped observation from a room sensor.
// Date is kept exactly as supplied; use Time to interpret it.
type SensorReading struct {
	ReadingID   string `json:"reading_id"`
	Room        string `json:"room"`
	Temperature Number `json:"temperature"`
	Humidity    Number `json:"humidity"`
	Date        string `json:"date"`
}

// Attributes is the stored shape of a reading without its id
type Attributes struct {
	Date        string `json:"date"`
	Room        string `json:"room"`
	Temperature Number `json:"temperature"`
	Humidity    Number `json:"humidity"`
}

// Readings maps reading ids to their attributes
type Readings map[string]Attributes

// NewSensorReading creates a reading dated now
func NewSensorReading(readingID, room string, temperature, humidity Number) *SensorReading {
	return &SensorReading{
		ReadingID:   readingID,
		Room:        room,
		Temperature: temperature,
		Humidity:    humidity,
		Date:        FormatDate(time.Now()),
	}
}

// Validate checks required fields and numeric attributes.
// It returns nil or a *ValidationError listing every offending field.
func (r *SensorReading) Validate() error {
	verr := &ValidationError{
		Entity: EntitySensorReading,
		ID:     r.ReadingID,
		Fields: make(map[string]string),
	}

	if r.ReadingID == "" {
		verr.Fields["reading_id"] = "field is required"
	}
	if strings.TrimSpace(r.Room) == "" {
		verr.Fields["room"] = "field is required"
	}
	if r.Temperature == "" {
		verr.Fields["temperature"] = "field is required"
	} else if !r.Temperature.IsNumeric() {
		verr.Fields["temperature"] = "value is not a number"
	}
	if r.Humidity == "" {
		verr.Fields["humidity"] = "field is required"
	} else if !r.Humidity.IsNumeric() {
		verr.Fields["humidity"] = "value is not a number"
	}
	if r.Date == "" {
		verr.Fields["date"] = "field is required"
	} else if _, err := ParseDate(r.Date, time.UTC); err != nil {
		verr.Fields["date"] = "cannot parse date"
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// Time interprets Date, using loc for timestamps without an offset
func (r *SensorReading) Time(loc *time.Location) (time.Time, error) {
	return ParseDate(r.Date, loc)
}

// Attributes returns the reading without its id
func (r *SensorReading) Attributes() Attributes {
	return Attributes{
		Date:        r.Date,
		Room:        r.Room,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}
}

// Copy returns a copy of the reading
func (r *SensorReading) Copy() *SensorReading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r *SensorReading) String() string {
	return fmt.Sprintf("ReadingID: %s, Room: %s, Date: %s, Temperature: %s, Humidity: %s",
		r.ReadingID,
		r.Room,
		r.Date,
		r.Temperature,
		r.Humidity)
}

// ValidationError reports a reading that failed validation
type ValidationError struct {
	Entity string
	ID     string
	Fields map[string]string // field name -> reason
}

// Error formats as "ValidationError (SensorReading:<id>) (field: reason, ...)"
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("ValidationError (%s:%s)", e.Entity, e.ID)
	if len(e.Fields) == 0 {
		return msg
	}

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return msg + " (" + strings.Join(parts, ", ") + ")"
}

// dateLayouts are tried in order; layouts without a zone are parsed in the caller's location
var dateLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02 15:04:05Z07:00", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// ParseDate parses an ISO-8601 timestamp. Fractional seconds are optional.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		var t time.Time
		var err error
		if l.zoned {
			t, err = time.Parse(l.layout, s)
		} else {
			t, err = time.ParseInLocation(l.layout, s, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %q", s)
}

// FormatDate formats t the way readings are dated by sensors, with microseconds and no zone
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}
