/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Seednode/trivia/games"
	"github.com/go-playground/validator/v10"
)

// Inbound message types
const (
	msgRegister       = "register"
	msgJoinTeam       = "join_team"
	msgStart          = "start"
	msgBeginAnswering = "begin_answering"
	msgClaimAnswer    = "claim_answer"
	msgGradeAnswer    = "grade_answer"
	msgReset          = "reset"
)

// Messages coming from clients
type ClientMessage struct {
	Type  string   `json:"type" validate:"required,oneof=register join_team start begin_answering claim_answer grade_answer reset"`
	Name  string   `json:"name,omitempty" validate:"required_if=Type register,max=256"` // register
	Team  string   `json:"team,omitempty" validate:"required_if=Type join_team"`        // join_team
	TeamA string   `json:"team_a,omitempty" validate:"max=256"`                         // start
	TeamB string   `json:"team_b,omitempty" validate:"max=256"`                         // start
	Score *float64 `json:"score,omitempty" validate:"required_if=Type grade_answer"`    // grade_answer
}

// StateUpdateMessage carries the full game state after every action.
type StateUpdateMessage struct {
	Type  string         `json:"type"` // "state_update"
	State games.Snapshot `json:"state"`
}

// SessionInfoMessage is sent immediately on connect so the client knows its actor id.
type SessionInfoMessage struct {
	Type    string `json:"type"` // "session_info"
	ActorID string `json:"actor_id"`
	GameID  string `json:"game_id"`
}

// HandRaisedMessage tells everyone who won the race to answer.
type HandRaisedMessage struct {
	Type   string `json:"type"` // "hand_raised"
	Player string `json:"player"`
}

// ErrorMessage is sent only to the client whose message broke the protocol.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

var validate = validator.New()

// checkMessage validates an inbound message against the protocol and the
// configured name length. Trimming happens first so "  " counts as blank.
func checkMessage(msg *ClientMessage, maxNameLength int) error {
	msg.Name = strings.TrimSpace(msg.Name)
	msg.TeamA = strings.TrimSpace(msg.TeamA)
	msg.TeamB = strings.TrimSpace(msg.TeamB)

	if err := validate.Struct(msg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s message: field %s failed %q", msg.Type, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return err
	}

	for _, name := range []string{msg.Name, msg.TeamA, msg.TeamB} {
		if len([]rune(name)) > maxNameLength {
			return fmt.Errorf("names are limited to %d characters", maxNameLength)
		}
	}

	return nil
}
