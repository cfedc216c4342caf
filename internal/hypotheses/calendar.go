package hypotheses

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Festival is one reference-calendar entry. Intensity runs 1 (minor) to 5
// (peak season).
type Festival struct {
	Date      time.Time `yaml:"-"`
	RawDate   string    `yaml:"date"`
	Name      string    `yaml:"name"`
	Region    string    `yaml:"region"`
	Intensity int       `yaml:"intensity"`
}

type calendarFile struct {
	Festivals []Festival `yaml:"festivals"`
}

// LoadCalendar reads the festival reference calendar from a YAML file,
// ordered by date. A missing file yields an empty calendar, not an error.
func LoadCalendar(path string) ([]Festival, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read calendar: %w", err)
	}

	var file calendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	festivals := make([]Festival, 0, len(file.Festivals))
	for _, f := range file.Festivals {
		date, err := time.Parse("2006-01-02", f.RawDate)
		if err != nil {
			return nil, fmt.Errorf("parse festival date %q: %w", f.RawDate, err)
		}
		f.Date = date
		festivals = append(festivals, f)
	}
	sort.Slice(festivals, func(i, j int) bool { return festivals[i].Date.Before(festivals[j].Date) })
	return festivals, nil
}

// FestivalsNear returns calendar entries within the window around the given
// date, strongest first.
func FestivalsNear(calendar []Festival, date time.Time, window time.Duration) []Festival {
	var near []Festival
	for _, f := range calendar {
		gap := f.Date.Sub(date)
		if gap < 0 {
			gap = -gap
		}
		if gap <= window {
			near = append(near, f)
		}
	}
	sort.Slice(near, func(i, j int) bool { return near[i].Intensity > near[j].Intensity })
	return near
}
