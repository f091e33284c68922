package occurrence

import (
	"fmt"
	"strings"
)

// Kind namespaces occurrence keys so that different touchpoints recorded
// against the same entity never collide.
type Kind string

const (
	KindBirthday          Kind = "birthday"
	KindHoliday           Kind = "holiday"
	KindAnniversaryAgent  Kind = "anniversary_agent"
	KindAnniversaryClient Kind = "anniversary_client"
	KindOutreach          Kind = "outreach"
)

// Key identifies one occurrence of a touchpoint, e.g. holiday:christmas_2025.
type Key struct {
	Kind  Kind
	Value string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.Value
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	kind, value, ok := strings.Cut(s, ":")
	if !ok || kind == "" || value == "" {
		return Key{}, fmt.Errorf("malformed occurrence key %q", s)
	}
	switch Kind(kind) {
	case KindBirthday, KindHoliday, KindAnniversaryAgent, KindAnniversaryClient, KindOutreach:
		return Key{Kind: Kind(kind), Value: value}, nil
	}
	return Key{}, fmt.Errorf("unknown occurrence kind %q", kind)
}
