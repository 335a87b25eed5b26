/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package games holds the rules of the two-team trivia game.
//
// A Coordinator owns the state of one game: the registered participants,
// both teams, and the session stage, phase, asking team and round. Every
// operation runs under a single lock, so a check and the mutation it guards
// can never interleave with another operation. Actions whose preconditions
// fail are rejected: they change nothing and report false instead of an error,
// since an honest client can race with another participant's action.
//
// Phase cycle while playing:
//
//	ASKING --BeginAnswering(asking team)--> ANSWERING
//	ANSWERING --ClaimAnswer(answering team)--> GRADING
//	GRADING --GradeAnswer(asking team)--> ASKING (round+1, asking team flips)
package games

import (
	"strings"
	"sync"

	"github.com/samber/lo"
)

// ActorID identifies one connected participant. It is assigned by the
// connection layer and is opaque here.
type ActorID string

type Stage string

const (
	StageSetup   Stage = "SETUP"
	StagePlaying Stage = "PLAYING"
)

type Phase string

const (
	PhaseAsking    Phase = "ASKING"
	PhaseAnswering Phase = "ANSWERING"
	PhaseGrading   Phase = "GRADING"
)

type participant struct {
	id   ActorID
	name string
	team TeamRef // empty when unassigned
}

type Coordinator struct {
	mu sync.Mutex

	participants []*participant // registration order
	byID         map[ActorID]*participant

	teams [2]team

	stage      Stage
	phase      Phase
	activeTeam TeamRef // the asking team
	round      int

	version uint64
}

func NewCoordinator() *Coordinator {
	c := &Coordinator{
		byID: make(map[ActorID]*participant),
	}
	c.resetLocked()

	return c
}

// Register adds a participant without a team. Registering an id twice is a
// no-op. Display names must be non-blank and unique within the game, since
// team member lists are kept by name.
func (c *Coordinator) Register(id ActorID, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrBlankName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; ok {
		return false, nil
	}

	for _, p := range c.participants {
		if p.name == name {
			return false, ErrNameTaken
		}
	}

	p := &participant{id: id, name: name}
	c.participants = append(c.participants, p)
	c.byID[id] = p
	c.version++

	return true, nil
}

// Remove drops a participant and takes its name off its team's member list.
// The team's score is left alone.
func (c *Coordinator) Remove(id ActorID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[id]
	if !ok {
		return false
	}

	if p.team.Valid() {
		c.dropMemberLocked(p.team, p.name)
	}

	delete(c.byID, id)
	c.participants = lo.Filter(c.participants, func(item *participant, _ int) bool {
		return item.id != id
	})
	c.version++

	return true
}

// JoinTeam moves a participant onto team. An unknown id is a no-op; a team
// other than A or B returns ErrInvalidTeam.
func (c *Coordinator) JoinTeam(id ActorID, ref TeamRef) (bool, error) {
	if !ref.Valid() {
		return false, ErrInvalidTeam
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[id]
	if !ok {
		return false, nil
	}

	if p.team.Valid() {
		c.dropMemberLocked(p.team, p.name)
	}

	p.team = ref

	t := &c.teams[ref.index()]
	if !lo.Contains(t.members, p.name) {
		t.members = append(t.members, p.name)
	}
	c.version++

	return true, nil
}

// StartSession names both teams and starts play from round one with team A
// asking. Blank names fall back to the defaults. Members are kept.
func (c *Coordinator) StartSession(nameA, nameB string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teams[TeamA.index()].name = teamNameOr(nameA, TeamA)
	c.teams[TeamB.index()].name = teamNameOr(nameB, TeamB)
	c.teams[TeamA.index()].score = 0
	c.teams[TeamB.index()].score = 0

	c.stage = StagePlaying
	c.phase = PhaseAsking
	c.activeTeam = TeamA
	c.round = 1
	c.version++
}

// BeginAnswering is sent by the asking team once its question is out.
func (c *Coordinator) BeginAnswering(id ActorID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inPhaseLocked(PhaseAsking) || !c.onTeamLocked(id, c.activeTeam) {
		return false
	}

	c.phase = PhaseAnswering
	c.version++

	return true
}

// ClaimAnswer is the answering team raising its hand. Only the first claim
// of a question applies; every later one finds the phase already moved on.
func (c *Coordinator) ClaimAnswer(id ActorID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inPhaseLocked(PhaseAnswering) || !c.onTeamLocked(id, c.activeTeam.Other()) {
		return false
	}

	c.phase = PhaseGrading
	c.version++

	return true
}

// GradeAnswer lets the asking team award 0, 0.5 or 1 point to the team that
// answered. The answering team then becomes the asking team for the next round.
func (c *Coordinator) GradeAnswer(id ActorID, points float64) bool {
	score, ok := ScoreFromPoints(points)
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inPhaseLocked(PhaseGrading) || !c.onTeamLocked(id, c.activeTeam) {
		return false
	}

	answering := c.activeTeam.Other()
	c.teams[answering.index()].score += score

	c.activeTeam = answering
	c.phase = PhaseAsking
	c.round++
	c.version++

	return true
}

// Reset returns the game to setup. Participants stay registered, since their
// connections are still open, but every team assignment is cleared.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.version++
}

// Name returns the display name registered for id.
func (c *Coordinator) Name(id ActorID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.byID[id]
	if !ok {
		return "", false
	}

	return p.name, true
}

func (c *Coordinator) resetLocked() {
	for i, ref := range []TeamRef{TeamA, TeamB} {
		c.teams[i] = team{
			name:    defaultTeamName(ref),
			members: []string{},
		}
	}

	for _, p := range c.participants {
		p.team = ""
	}

	c.stage = StageSetup
	c.phase = PhaseAsking
	c.activeTeam = TeamA
	c.round = 1
}

func (c *Coordinator) inPhaseLocked(phase Phase) bool {
	return c.stage == StagePlaying && c.phase == phase
}

func (c *Coordinator) onTeamLocked(id ActorID, ref TeamRef) bool {
	p, ok := c.byID[id]
	return ok && p.team == ref
}

func (c *Coordinator) dropMemberLocked(ref TeamRef, name string) {
	t := &c.teams[ref.index()]
	t.members = lo.Without(t.members, name)
}
