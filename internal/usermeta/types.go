package usermeta

import "errors"

const (
	DefaultCollection      = "Users"
	DefaultIDColumn        = "_id"
	DefaultUsernameColumn  = "Username"
	DefaultFirstNameColumn = "First_Name"
	DefaultLastNameColumn  = "Last_Name"
	DefaultLocaleColumn    = "Locale"
)

// ErrUserMeta is returned for missing users, missing fields and storage failures.
var ErrUserMeta = errors.New("user meta error")

type Config struct {
	Collection      string
	IDColumn        string
	UsernameColumn  string
	FirstNameColumn string
	LastNameColumn  string
	LocaleColumn    string
}

// Profile is the display identity copied from the transport.
type Profile struct {
	Username  string
	FirstName string
	LastName  string
}

func (c Config) withDefaults() Config {
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.IDColumn == "" {
		c.IDColumn = DefaultIDColumn
	}
	if c.UsernameColumn == "" {
		c.UsernameColumn = DefaultUsernameColumn
	}
	if c.FirstNameColumn == "" {
		c.FirstNameColumn = DefaultFirstNameColumn
	}
	if c.LastNameColumn == "" {
		c.LastNameColumn = DefaultLastNameColumn
	}
	if c.LocaleColumn == "" {
		c.LocaleColumn = DefaultLocaleColumn
	}
	return c
}
