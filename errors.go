package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Rejection reasons surfaced to the initiating client. Each maps onto one of
// four kinds: not found, unauthorized, failed precondition, or internal.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrPlayerNotFound     = errors.New("player not in room")
	ErrNotOwner           = errors.New("only the room owner may do that")
	ErrNotEnoughPlayers   = errors.New("at least two players are needed")
	ErrRoomFull           = errors.New("room is full")
	ErrRoundInactive      = errors.New("no round is active")
	ErrEliminated         = errors.New("eliminated players cannot vote")
	ErrCodeSpaceExhausted = errors.New("unable to generate an unused room code")
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(getFavicon())
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
