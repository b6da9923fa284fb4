package sip_test

import (
	"strings"
	"testing"

	"github.com/ghettovoice/sipua/sip"
)

func TestTransactionContext_Resends(t *testing.T) {
	t.Parallel()

	tc := sip.NewTransactionContext()
	if tc.CSeq != 1 {
		t.Errorf("sip.NewTransactionContext().CSeq = %d, want 1", tc.CSeq)
	}
	if !strings.HasPrefix(tc.Branch, sip.MagicCookie) {
		t.Errorf("tc.Branch = %q, want prefix %q", tc.Branch, sip.MagicCookie)
	}

	const n = 100
	branches := map[string]bool{tc.Branch: true}
	for i := range n {
		prev := tc
		if i%3 == 0 {
			tc = tc.Challenged()
		} else {
			tc = tc.Next()
		}

		if tc.CSeq <= prev.CSeq {
			t.Fatalf("resend #%d CSeq = %d, want > %d", i, tc.CSeq, prev.CSeq)
		}
		if tc.CallID != prev.CallID || tc.FromTag != prev.FromTag {
			t.Fatalf("resend #%d changed Call-ID or From tag: %+v -> %+v", i, prev, tc)
		}
		if branches[tc.Branch] {
			t.Fatalf("resend #%d reused branch %q", i, tc.Branch)
		}
		branches[tc.Branch] = true
	}
}

func TestTransactionContext_Challenges(t *testing.T) {
	t.Parallel()

	tc := sip.NewTransactionContext()
	tc = tc.Challenged()
	tc = tc.Challenged()
	if got, want := tc.Challenges, 2; got != want {
		t.Errorf("tc.Challenges = %d, want %d", got, want)
	}

	tc = tc.Next()
	if got, want := tc.Challenges, 0; got != want {
		t.Errorf("tc.Next().Challenges = %d, want %d", got, want)
	}
}

func TestTransactionContext_Matches(t *testing.T) {
	t.Parallel()

	tc := sip.NewTransactionContext()
	if !tc.Matches(tc.CallID, tc.CSeq) {
		t.Errorf("tc.Matches(own Call-ID, own CSeq) = false, want true")
	}
	if tc.Matches(tc.CallID, tc.CSeq+1) {
		t.Errorf("tc.Matches(own Call-ID, next CSeq) = true, want false")
	}
	if tc.Matches("other", tc.CSeq) {
		t.Errorf("tc.Matches(other Call-ID, own CSeq) = true, want false")
	}

	var zero sip.TransactionContext
	if zero.Matches("", 0) {
		t.Errorf("zero.Matches(\"\", 0) = true, want false")
	}
}

func TestNewTransactionContext_Unique(t *testing.T) {
	t.Parallel()

	a, b := sip.NewTransactionContext(), sip.NewTransactionContext()
	if a.CallID == b.CallID {
		t.Errorf("two families share Call-ID %q", a.CallID)
	}
	if a.FromTag == b.FromTag {
		t.Errorf("two families share From tag %q", a.FromTag)
	}
}
