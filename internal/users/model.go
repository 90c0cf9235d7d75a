package users

import (
	"bytes"
	"fmt"
	"time"
)

// User is a stored resident account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Name         string
	Address      string
	Telephone    string
	Help         bool
	CreatedAt    time.Time
}

// Profile is what an authenticated owner sees of their own record.
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Telephone string `json:"telephone"`
	Help      bool   `json:"help"`
}

// HelpRequest is the public projection of a resident who needs help.
type HelpRequest struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Telephone string `json:"telephone"`
}

// SignupInput carries the fields accepted when creating an account.
type SignupInput struct {
	Username  string
	Password  string
	Name      string
	Address   string
	Telephone string
	Help      bool
}

// UpdateInput carries a partial profile update. Empty strings mean "leave
// unchanged"; Help is applied whenever it is non-nil.
type UpdateInput struct {
	Password  string
	Name      string
	Address   string
	Telephone string
	Help      *bool
}

// Changes is the resolved column set written by Repository.Update.
type Changes struct {
	PasswordHash *string
	Name         *string
	Address      *string
	Telephone    *string
	Help         *bool
}

// Empty reports whether no column would be written.
func (c Changes) Empty() bool {
	return c.PasswordHash == nil && c.Name == nil && c.Address == nil && c.Telephone == nil && c.Help == nil
}

// touchesListing reports whether the change can alter the public listing.
func (c Changes) touchesListing() bool {
	return c.Name != nil || c.Address != nil || c.Telephone != nil || c.Help != nil
}

func (u User) profile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Address:   u.Address,
		Telephone: u.Telephone,
		Help:      u.Help,
	}
}

// Flag decodes the needs-help flag from JSON booleans as well as the 0/1
// integers and "true"/"false" strings sent by older clients.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1", `"true"`, `"1"`:
		*f = true
	case "false", "0", `"false"`, `"0"`, "null":
		*f = false
	default:
		return fmt.Errorf("invalid help flag %s", data)
	}
	return nil
}

// OptionalFlag is a needs-help flag that records whether the field was sent.
// An explicit null is rejected rather than read as "not provided".
type OptionalFlag struct {
	Present bool
	Value   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptionalFlag) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return fmt.Errorf("help flag must not be null")
	}
	var f Flag
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	o.Present = true
	o.Value = bool(f)
	return nil
}
