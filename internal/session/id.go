package session

import agentcore "github.com/havenrun/agentcore"

func newSessionID() string { return agentcore.NewID() }
