package main

import (
	"errors"

	"github.com/corda/corda-runtime-os-sub030/flow"
)

// pingFlow sends its start args to bob and returns the reply.
func pingFlow(ctx flow.Context) (string, error) {
	ctx.Logger().Info("sending ping", "message", ctx.StartArgs())

	s := ctx.InitiateFlow(bob, "ping")

	reply, err := s.SendAndReceive([]byte(ctx.StartArgs()))
	if err != nil {
		return "", err
	}

	return "received " + string(reply), nil
}

func pongFlow(ctx flow.Context) (string, error) {
	s, ok := ctx.InitiatingSession()
	if !ok {
		return "", errors.New("pong is only started by a session")
	}

	msg, err := s.Receive()
	if err != nil {
		return "", err
	}

	if err := s.Send([]byte("pong")); err != nil {
		return "", err
	}

	return string(msg), nil
}
