package addonsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRequirementsSplitsAllowAndDeny(t *testing.T) {
	allow, deny := ParseRequirements("+APPROVED,+DFSG,-ALPHA")
	assert.Equal(t, StatusApproved|StatusDFSG, allow)
	assert.Equal(t, StatusAlpha, deny)
}

func TestParseRequirementsEmptyAllowMeansAny(t *testing.T) {
	allow, deny := ParseRequirements("-ALPHA")
	assert.Equal(t, allowStatusBitsForTest(), allow)
	assert.Equal(t, StatusAlpha, deny)
}

func allowStatusBitsForTest() AddonStatus {
	return allStatusBits
}

func TestPassesFilterRejectsOnDenyRegardlessOfAllow(t *testing.T) {
	status := StatusApproved | StatusAlpha
	allow, deny := ParseRequirements("+APPROVED,-ALPHA")
	assert.False(t, PassesFilter(status, allow, deny))
}

func TestPassesFilterAcceptsWhenAllowMatchesAndNoDeny(t *testing.T) {
	status := StatusApproved | StatusDFSG
	allow, deny := ParseRequirements("+APPROVED,+DFSG,-ALPHA")
	assert.True(t, PassesFilter(status, allow, deny))
}
