package relay

import "sort"

// MemberID identifies one websocket session. It is opaque and unique per
// live connection.
type MemberID string

// RoomInfo is a point-in-time view of one room.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

// Registry owns room membership. Implementations are not required to be
// safe for concurrent use; the Hub only calls them from its event loop.
// A distributed store can replace MemoryRegistry behind this interface.
type Registry interface {
	// Join adds member to room, creating the room if needed. It reports
	// false when member was already present.
	Join(room string, member MemberID) bool

	// Leave removes member from room, deleting the room once empty. It
	// reports false when member was not present.
	Leave(room string, member MemberID) bool

	// LeaveAll removes member from every room it joined and returns those
	// rooms in sorted order.
	LeaveAll(member MemberID) []string

	// Members returns the room's members sorted lexicographically.
	Members(room string) []MemberID

	// Contains reports whether member is in room.
	Contains(room string, member MemberID) bool

	// Rooms lists every non-empty room sorted by id.
	Rooms() []RoomInfo
}

// Room is a named set of members collaborating on one call.
type Room struct {
	ID      string
	members map[MemberID]struct{}
}

// MemoryRegistry keeps rooms in process memory. A restart drops them all.
type MemoryRegistry struct {
	rooms map[string]*Room

	// joined indexes rooms by member so disconnect cleanup does not scan
	// every room.
	joined map[MemberID]map[string]struct{}
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		rooms:  make(map[string]*Room),
		joined: make(map[MemberID]map[string]struct{}),
	}
}

func (r *MemoryRegistry) Join(room string, member MemberID) bool {
	rm, ok := r.rooms[room]
	if !ok {
		rm = &Room{ID: room, members: make(map[MemberID]struct{})}
		r.rooms[room] = rm
	}
	if _, ok := rm.members[member]; ok {
		return false
	}
	rm.members[member] = struct{}{}

	if r.joined[member] == nil {
		r.joined[member] = make(map[string]struct{})
	}
	r.joined[member][room] = struct{}{}
	return true
}

func (r *MemoryRegistry) Leave(room string, member MemberID) bool {
	rm, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := rm.members[member]; !ok {
		return false
	}
	delete(rm.members, member)
	if len(rm.members) == 0 {
		delete(r.rooms, room)
	}

	delete(r.joined[member], room)
	if len(r.joined[member]) == 0 {
		delete(r.joined, member)
	}
	return true
}

func (r *MemoryRegistry) LeaveAll(member MemberID) []string {
	rooms := make([]string, 0, len(r.joined[member]))
	for room := range r.joined[member] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	for _, room := range rooms {
		r.Leave(room, member)
	}
	return rooms
}

func (r *MemoryRegistry) Members(room string) []MemberID {
	rm, ok := r.rooms[room]
	if !ok {
		return nil
	}
	members := make([]MemberID, 0, len(rm.members))
	for m := range rm.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

func (r *MemoryRegistry) Contains(room string, member MemberID) bool {
	rm, ok := r.rooms[room]
	if !ok {
		return false
	}
	_, ok = rm.members[member]
	return ok
}

func (r *MemoryRegistry) Rooms() []RoomInfo {
	infos := make([]RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		infos = append(infos, RoomInfo{ID: id, Members: len(rm.members)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
