package domain

import "strconv"

// AccountType is the account type GitHub declares for the sender.
type AccountType string

const (
	AccountTypeUser         AccountType = "User"
	AccountTypeBot          AccountType = "Bot"
	AccountTypeOrganization AccountType = "Organization"
)

// Classification is derived from an Actor by the classifier. It never comes off the wire.
type Classification string

const (
	ClassificationHuman      Classification = "human"
	ClassificationAutomation Classification = "automation"
	ClassificationUnknown    Classification = "unknown"
)

type Actor struct {
	ID           int64
	Login        string
	DeclaredType AccountType
}

func itoa64(v int64) string {
	return strconv.FormatInt(v, 10)
}
