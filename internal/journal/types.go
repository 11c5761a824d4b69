package journal

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultCollection = "Logs"
	DefaultLevel      = "INFO"
)

var (
	ErrJournal      = errors.New("journal error")
	ErrUnknownLevel = fmt.Errorf("%w: unknown level", ErrJournal)
)

// Level orders journal records by severity.
type Level int

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

var levelNames = map[Level]string{
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelWarning:  "WARNING",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel maps a level name, case-insensitively, to its Level.
func ParseLevel(name string) (Level, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// Config selects the collection and initial threshold. Records keep only the
// first line of every parameter unless FullParams is set.
type Config struct {
	Collection string
	Level      string
	FullParams bool
}

func (c Config) withDefaults() Config {
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.Level == "" {
		c.Level = DefaultLevel
	}
	return c
}

// dayLayout formats the UTC day bucket stored with every record.
const dayLayout = "2006-01-02"

// Record columns.
const (
	columnID     = "id"
	columnTime   = "time"
	columnDay    = "day"
	columnLevel  = "level"
	columnEvent  = "event"
	columnParams = "params"
)
