package toolexecutor

import (
	"fmt"
	"strings"
)

// Family groups built-in tools by the capability they expose.
type Family string

const (
	FamilyMemory     Family = "memory"
	FamilyFilesystem Family = "filesystem"
	FamilyCalendar   Family = "calendar"
	FamilyEmail      Family = "email"
	FamilyScheduling Family = "scheduling"
	FamilyVault      Family = "vault"
	FamilyAlias      Family = "alias"
	FamilyMessaging  Family = "messaging"
	FamilyMedia      Family = "media"
)

// AllFamilies returns every built-in family.
func AllFamilies() []Family {
	return []Family{
		FamilyMemory,
		FamilyFilesystem,
		FamilyCalendar,
		FamilyEmail,
		FamilyScheduling,
		FamilyVault,
		FamilyAlias,
		FamilyMessaging,
		FamilyMedia,
	}
}

func (f Family) Valid() bool {
	for _, known := range AllFamilies() {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFamily converts a string to a Family.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("invalid tool family: %s", s)
	}
	return f, nil
}
