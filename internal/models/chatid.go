package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChatID identifies one conversation thread. On the wire it is the composite
// string "<username>_<profileName>_<suffix>"; in code the fields are kept
// separate so nothing downstream has to split strings.
type ChatID struct {
	Username    string
	ProfileName string
	Suffix      string
}

// NewChatID mints a chat id for the given user and profile with a random
// unique suffix. Usernames and profile names must be non-empty and free of
// underscores: the wire form joins the fields with "_", so an embedded
// underscore would make the id parse back to a different user or profile.
func NewChatID(username, profileName string) (ChatID, error) {
	if username == "" || strings.Contains(username, "_") {
		return ChatID{}, fmt.Errorf("invalid username %q: must be non-empty and contain no underscores", username)
	}
	if profileName == "" || strings.Contains(profileName, "_") {
		return ChatID{}, fmt.Errorf("invalid profile name %q: must be non-empty and contain no underscores", profileName)
	}
	return ChatID{
		Username:    username,
		ProfileName: profileName,
		Suffix:      uuid.NewString(),
	}, nil
}

// ParseChatID validates and decomposes a composite chat id. Usernames and
// profile names must not contain underscores; the suffix may.
func ParseChatID(s string) (ChatID, error) {
	parts := strings.SplitN(s, "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ChatID{}, fmt.Errorf("malformed chat id %q: want username_profileName_suffix", s)
	}
	return ChatID{Username: parts[0], ProfileName: parts[1], Suffix: parts[2]}, nil
}

// String renders the wire form of the id.
func (c ChatID) String() string {
	return c.Username + "_" + c.ProfileName + "_" + c.Suffix
}

// IsZero reports whether the id is unset.
func (c ChatID) IsZero() bool {
	return c.Username == "" && c.ProfileName == "" && c.Suffix == ""
}
