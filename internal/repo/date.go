package repo

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// dateLayout is fixed width so that text ordering in SQL matches time
// ordering.
const dateLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Date stores timestamps as UTC text and reads back both its own layout and
// SQLite's CURRENT_TIMESTAMP format.
type Date time.Time

func NewDate(t time.Time) Date {
	return Date(t.UTC())
}

func (d Date) Value() (driver.Value, error) {
	return time.Time(d).UTC().Format(dateLayout), nil
}

func (d *Date) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*d = Date(time.Time{})
		return nil
	case time.Time:
		*d = Date(v)
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	}
	return fmt.Errorf("cannot scan type %T into Date", value)
}

func (d *Date) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.DateTime, s)
		if err != nil {
			return err
		}
	}
	*d = Date(t)
	return nil
}

func (d Date) Time() time.Time {
	return time.Time(d)
}

func (d *Date) TimePtr() *time.Time {
	if d == nil || time.Time(*d).IsZero() {
		return nil
	}
	t := time.Time(*d)
	return &t
}
