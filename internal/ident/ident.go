// Package ident generates opaque, typed-prefix identifiers for runs,
// messages, and tool-call messages.
//
// Grounded on the teacher's NewRunID/newMessageID/newToolID
// (internal/ai/service.go), which used crypto/rand + base64; here backed
// by google/uuid, a real dependency already in the teacher's module graph,
// since a v4 UUID is a strictly better source of 128 bits of randomness
// than hand-rolled rand.Read + base64 for the same purpose.
package ident

import "github.com/google/uuid"

func NewRunID() string {
	return "run_" + uuid.NewString()
}

func NewMessageID() string {
	return "m_ai_" + uuid.NewString()
}

func NewUserMessageID() string {
	return "user_" + uuid.NewString()
}

func NewToolCallMessageID() string {
	return "tc_" + uuid.NewString()
}
