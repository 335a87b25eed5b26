/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import "github.com/samber/lo"

// TeamState is one team as seen by observers.
type TeamState struct {
	Ref     TeamRef  `json:"ref"`
	Name    string   `json:"name"`
	Score   Score    `json:"score"`
	Members []string `json:"members"`
}

// OnlinePlayer is a roster entry. Team is empty for unassigned players.
type OnlinePlayer struct {
	Name string  `json:"name"`
	Team TeamRef `json:"team,omitempty"`
}

// Snapshot is the complete state of a game at one point in time. Version
// increases with every applied action, so two snapshots with the same
// version hold the same state.
type Snapshot struct {
	Stage         Stage          `json:"stage"`
	Phase         Phase          `json:"phase"`
	ActiveTeam    TeamRef        `json:"active_team"`
	Round         int            `json:"round"`
	Teams         []TeamState    `json:"teams"`
	OnlinePlayers []OnlinePlayer `json:"online_players"`
	Version       uint64         `json:"version"`
}

// Team returns the state of ref, or the zero value for an invalid ref.
func (s Snapshot) Team(ref TeamRef) TeamState {
	for _, t := range s.Teams {
		if t.Ref == ref {
			return t
		}
	}
	return TeamState{}
}

// Snapshot copies out the current state. Nothing in the result aliases the
// coordinator's internals.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	teams := make([]TeamState, 0, len(c.teams))
	for i, ref := range []TeamRef{TeamA, TeamB} {
		t := c.teams[i]
		teams = append(teams, TeamState{
			Ref:     ref,
			Name:    t.name,
			Score:   t.score,
			Members: append([]string{}, t.members...),
		})
	}

	return Snapshot{
		Stage:      c.stage,
		Phase:      c.phase,
		ActiveTeam: c.activeTeam,
		Round:      c.round,
		Teams:      teams,
		OnlinePlayers: lo.Map(c.participants, func(p *participant, _ int) OnlinePlayer {
			return OnlinePlayer{Name: p.name, Team: p.team}
		}),
		Version: c.version,
	}
}
