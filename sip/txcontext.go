package sip

import (
	"log/slog"

	"github.com/ghettovoice/sipua/internal/randutils"
)

// MagicCookie is the RFC 3261 branch prefix.
const MagicCookie = "z9hG4bK"

// GenerateBranch returns a new unique Via branch.
func GenerateBranch() string { return MagicCookie + "." + randutils.RandString(16) }

// GenerateTag returns a new From/To tag.
func GenerateTag() string { return randutils.RandString(10) }

// GenerateCallID returns a new globally unique Call-ID.
func GenerateCallID() string { return randutils.UUID() }

// TransactionContext identifies the requests of one transaction family.
// It is a value: advancing it returns a new context and leaves the old one intact.
type TransactionContext struct {
	CallID  string
	FromTag string
	Branch  string
	CSeq    uint32
	// Challenges counts consecutive answered authentication challenges.
	Challenges int
}

// NewTransactionContext starts a new family with CSeq 1.
func NewTransactionContext() TransactionContext {
	return TransactionContext{
		CallID:  GenerateCallID(),
		FromTag: GenerateTag(),
		Branch:  GenerateBranch(),
		CSeq:    1,
	}
}

// Next returns the context of the next request of the family:
// CSeq is incremented, the branch is regenerated and the challenge counter is reset.
func (tc TransactionContext) Next() TransactionContext {
	tc.CSeq++
	tc.Branch = GenerateBranch()
	tc.Challenges = 0
	return tc
}

// Challenged returns the context of an authenticated retry.
func (tc TransactionContext) Challenged() TransactionContext {
	n := tc.Challenges + 1
	tc = tc.Next()
	tc.Challenges = n
	return tc
}

// Matches reports whether a response with the Call-ID and CSeq number belongs to the current request.
func (tc TransactionContext) Matches(callID string, cseq uint32) bool {
	return tc.CallID != "" && tc.CallID == callID && tc.CSeq == cseq
}

// LogValue implements [slog.LogValuer].
func (tc TransactionContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("call_id", tc.CallID),
		slog.String("branch", tc.Branch),
		slog.Uint64("cseq", uint64(tc.CSeq)),
	)
}
