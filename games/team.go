/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import (
	"encoding/json"
	"strconv"
	"strings"
)

// TeamRef identifies one of the two teams.
type TeamRef string

const (
	TeamA TeamRef = "A"
	TeamB TeamRef = "B"
)

// ParseTeamRef accepts "A" or "B" (case-insensitive, surrounding space ignored).
func ParseTeamRef(s string) (TeamRef, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return TeamA, nil
	case "B":
		return TeamB, nil
	}
	return "", ErrInvalidTeam
}

func (t TeamRef) Valid() bool {
	return t == TeamA || t == TeamB
}

// Other returns the opposing team.
func (t TeamRef) Other() TeamRef {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

func (t TeamRef) index() int {
	if t == TeamB {
		return 1
	}
	return 0
}

// Score counts half points, so 3 is one and a half points.
type Score int

// Allowed grades for a single answer.
const (
	GradeWrong   Score = 0
	GradePartial Score = 1
	GradeCorrect Score = 2
)

// ScoreFromPoints converts a point value into a grade. Only 0, 0.5 and 1 are accepted.
func ScoreFromPoints(points float64) (Score, bool) {
	switch points {
	case 0:
		return GradeWrong, true
	case 0.5:
		return GradePartial, true
	case 1:
		return GradeCorrect, true
	}
	return 0, false
}

func (s Score) Points() float64 {
	return float64(s) / 2
}

func (s Score) String() string {
	return strconv.FormatFloat(s.Points(), 'f', -1, 64)
}

func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Points())
}

type team struct {
	name    string
	score   Score
	members []string
}

func defaultTeamName(ref TeamRef) string {
	return "Team " + string(ref)
}

func teamNameOr(name string, ref TeamRef) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultTeamName(ref)
	}
	return name
}
