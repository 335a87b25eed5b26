/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package games

import "errors"

// Rejected actions are never errors. These point at a caller that sent
// something outside an action's domain.
var (
	ErrInvalidTeam = errors.New("team must be A or B")
	ErrBlankName   = errors.New("display name cannot be blank")
	ErrNameTaken   = errors.New("display name is already taken")
)
