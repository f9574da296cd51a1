package models

// Responder sends messages back to a participant's connection.
type Responder interface {
	Send(msg any)
}

// A world participant.
type Participant struct {
	ID        uint32
	Responder Responder

	objectIDs map[uint32]struct{}
}

func (p *Participant) AddObject(o *Object) {
	if p.objectIDs == nil {
		p.objectIDs = make(map[uint32]struct{})
	}
	p.objectIDs[o.ID] = struct{}{}
}

func (p *Participant) RemoveObject(o *Object) {
	delete(p.objectIDs, o.ID)
}

func (p *Participant) ObjectIDs() map[uint32]struct{} {
	return p.objectIDs
}
