package gateway

import "context"

// sessionIntervener adapts a sessionHandle to observer.Intervener, which
// wants a bare error return; Session.Intervene also returns the completed
// turn's content, which the Observer has no use for.
type sessionIntervener struct {
	session sessionHandle
}

func (s sessionIntervener) Intervene(ctx context.Context, agentID, directive string) error {
	_, err := s.session.Intervene(ctx, agentID, directive)
	return err
}
