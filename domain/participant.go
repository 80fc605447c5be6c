// Package domain contains core concepts of the collaboration relay.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"net"
	"time"
)

// UID identifies one active participant session. Assigned by the registry at
// login, immutable afterwards, and carried as a 4-byte field in every media
// packet.
type UID uint32

// Participant represents one authenticated control connection and the media
// state attached to it. The registry owns every instance; other components
// only ever see copies or summaries.
type Participant struct {
	UID      UID
	Username string
	JoinedAt time.Time
	LastSeen time.Time

	VideoEnabled bool
	AudioEnabled bool
	IsPresenting bool

	// UDP endpoints learned from the first inbound media packet of each kind.
	VideoAddr *net.UDPAddr
	AudioAddr *net.UDPAddr
}

// ParticipantSummary is the wire-safe projection of a Participant used in
// PARTICIPANT_LIST payloads.
type ParticipantSummary struct {
	UID          UID       `json:"uid"`
	Username     string    `json:"username"`
	IsPresenting bool      `json:"is_presenting"`
	JoinedAt     time.Time `json:"joined_at"`
}

func (p *Participant) Summary() ParticipantSummary {
	return ParticipantSummary{
		UID:          p.UID,
		Username:     p.Username,
		IsPresenting: p.IsPresenting,
		JoinedAt:     p.JoinedAt,
	}
}
