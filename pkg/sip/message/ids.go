package message

import (
	"strings"

	"github.com/google/uuid"
)

// BranchMagicCookie is the RFC 3261 branch prefix
const BranchMagicCookie = "z9hG4bK"

func randomHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GenerateBranch generates a branch parameter for the Via header
func GenerateBranch() string {
	return BranchMagicCookie + "-" + randomHex()
}

// GenerateTag generates a tag for From/To headers
func GenerateTag() string {
	return "trunk" + randomHex()[:10]
}

// GenerateCallID generates a Call-ID
func GenerateCallID() string {
	return uuid.NewString()
}
