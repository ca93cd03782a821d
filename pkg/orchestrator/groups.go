package orchestrator

import (
	"sort"

	"github.com/teslamotors/bluetooth-policy/pkg/protocol"
)

// CoordinatedSet is a group of devices that act as one, such as a pair of earbuds.
type CoordinatedSet struct {
	GroupID int `json:"group_id"`
	// Desired is the number of members the set announces.
	Desired int `json:"desired"`
	// Members are the devices whose set-coordinator profile connected, ordered by rank.
	Members []protocol.Device `json:"members"`
}

// Complete returns true once every member of the set has been seen.
func (c *CoordinatedSet) Complete() bool {
	return c.Desired > 0 && len(c.Members) == c.Desired
}

func (c *CoordinatedSet) clone() CoordinatedSet {
	clone := *c
	clone.Members = append([]protocol.Device(nil), c.Members...)
	return clone
}

type group struct {
	set CoordinatedSet
	// ranks holds the rank of every device announced for the set, connected or not.
	ranks map[protocol.Device]int
	// released is set once LE Audio was allowed for the complete set.
	released bool
}

func newGroup(id, desired int) *group {
	return &group{
		set:   CoordinatedSet{GroupID: id, Desired: desired},
		ranks: make(map[protocol.Device]int),
	}
}

func (g *group) isMember(device protocol.Device) bool {
	for _, m := range g.set.Members {
		if m == device {
			return true
		}
	}
	return false
}

// add inserts device in rank order. Returns false if it was already a member.
func (g *group) add(device protocol.Device) bool {
	if g.isMember(device) {
		return false
	}
	g.set.Members = append(g.set.Members, device)
	sort.SliceStable(g.set.Members, func(i, j int) bool {
		return g.ranks[g.set.Members[i]] < g.ranks[g.set.Members[j]]
	})
	return true
}

func (g *group) remove(device protocol.Device) {
	delete(g.ranks, device)
	for i, m := range g.set.Members {
		if m == device {
			g.set.Members = append(g.set.Members[:i], g.set.Members[i+1:]...)
			return
		}
	}
}
