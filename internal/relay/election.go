package relay

// Elector picks the member that creates the offer once a room is paired.
// members is never empty and is sorted lexicographically.
type Elector interface {
	Elect(members []MemberID) MemberID
}

// LexicographicElector elects the smallest member id. Member ids are
// per-connection, so the initiator can change across reconnects.
type LexicographicElector struct{}

func (LexicographicElector) Elect(members []MemberID) MemberID {
	initiator := members[0]
	for _, m := range members[1:] {
		if m < initiator {
			initiator = m
		}
	}
	return initiator
}
