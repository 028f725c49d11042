package queue

import "fmt"

// PartialMergeNotice is posted when a queued PR's source branch advanced
// after admission: only the commits that were actually queued are
// eligible for promotion, and the messenger reports exactly which ones
// were left behind (§4.5).
type PartialMergeNotice struct {
	PRNumber        int
	QueuedCommit    string
	CurrentSourceSHA string
	LeftBehind      []string
}

func (n *PartialMergeNotice) Error() string {
	return fmt.Sprintf("partial merge for PR #%d: %d commit(s) queued as of %s, %d left behind",
		n.PRNumber, 1, n.QueuedCommit, len(n.LeftBehind))
}

// DetectPartialMerge compares the item's queued content against the
// source branch's current tip; leftBehind is the commit list the caller
// already resolved (typically workspace.RevListExcluding(currentSourceSHA,
// queuedCommit)).
func DetectPartialMerge(item *Item, currentSourceSHA string, leftBehind []string) *PartialMergeNotice {
	if len(leftBehind) == 0 {
		return nil
	}
	return &PartialMergeNotice{
		PRNumber:         item.PRNumber,
		QueuedCommit:     item.Source,
		CurrentSourceSHA: currentSourceSHA,
		LeftBehind:       leftBehind,
	}
}
