package conversation

import (
	"fmt"
	"strings"

	"github.com/edumarket/chatsync/internal/utils/platformerrors"
)

const keyPrefix = "conversation:"

// Key identifies a two-party conversation room. The student id always comes
// first and the tutor profile id second, so both sides derive the same key.
type Key string

// NewKey derives the conversation key from the local user's role and the two ids.
func NewKey(role Role, selfID, peerID string) (Key, error) {
	selfID = strings.TrimSpace(selfID)
	peerID = strings.TrimSpace(peerID)
	if err := validateID("self id", selfID); err != nil {
		return "", err
	}
	if err := validateID("peer id", peerID); err != nil {
		return "", err
	}

	switch role {
	case RoleStudent:
		return Key(keyPrefix + selfID + ":" + peerID), nil
	case RoleTutor:
		return Key(keyPrefix + peerID + ":" + selfID), nil
	default:
		return "", platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("unknown role %q", role), nil)
	}
}

// ParseKey validates the textual form of a key.
func ParseKey(raw string) (Key, error) {
	key := Key(strings.TrimSpace(raw))
	if _, _, err := key.Participants(); err != nil {
		return "", err
	}
	return key, nil
}

// Participants splits the key into the student id and the tutor profile id.
func (k Key) Participants() (studentID, tutorProfileID string, err error) {
	rest, ok := strings.CutPrefix(string(k), keyPrefix)
	if !ok {
		return "", "", invalidKey(k)
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", invalidKey(k)
	}
	return parts[0], parts[1], nil
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

func validateID(field, id string) error {
	if id == "" {
		return platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation, field+" is required", nil)
	}
	if strings.Contains(id, ":") {
		return platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
			fmt.Sprintf("%s %q must not contain ':'", field, id), nil)
	}
	return nil
}

func invalidKey(k Key) error {
	return platformerrors.NewError(platformerrors.LayerDomain, platformerrors.ErrorTypeValidation,
		fmt.Sprintf("invalid conversation key %q", string(k)), nil)
}
