// Package models defines the value types shared by the playback core.
package models

import (
	"strings"
)

// Target is one playable stream: an opaque URI plus the identity used to
// look up its neighbours in the channel directory. Targets are passed by
// value and never mutated once issued to a load request.
type Target struct {
	// ID identifies the target within the channel directory.
	ID string `json:"id" yaml:"id" mapstructure:"id"`

	// Name is the display name shown in banners.
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// URI is the stream address handed to the media engine.
	URI string `json:"uri" yaml:"uri" mapstructure:"uri"`

	// Number is the channel number (tvg-chno), 0 when unknown.
	Number int `json:"number,omitempty" yaml:"number,omitempty" mapstructure:"number"`

	// Group is the category from group-title.
	Group string `json:"group,omitempty" yaml:"group,omitempty" mapstructure:"group"`

	// Logo is the logo URL. It is carried for the UI and never fetched here.
	Logo string `json:"logo,omitempty" yaml:"logo,omitempty" mapstructure:"logo"`
}

// IsZero reports whether t is the zero Target.
func (t Target) IsZero() bool {
	return t.ID == "" && t.URI == ""
}

// DisplayName returns Name, falling back to ID.
func (t Target) DisplayName() string {
	if name := strings.TrimSpace(t.Name); name != "" {
		return name
	}
	return t.ID
}

// Validate performs basic validation on the target.
func (t Target) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrValidation{Field: "id", Message: "must not be empty", Err: ErrTargetIDRequired}
	}
	if strings.TrimSpace(t.URI) == "" {
		return ErrValidation{Field: "uri", Message: "must not be empty", Err: ErrURIRequired}
	}
	return nil
}
