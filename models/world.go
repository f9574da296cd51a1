package models

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/midgardlabs/midgard/spatial"
)

// World represents a bounded square region holding objects and the
// participants who manipulate them. Objects are kept in a spatial index so
// region queries do not scan the whole world.
type World struct {
	ID        uint32
	WorldUUID string

	participantIDs   SequentialIDGenerator
	participantMutex sync.RWMutex
	participants     map[uint32]*Participant

	objectIDs   SequentialIDGenerator
	objectMutex sync.RWMutex
	objects     map[uint32]*Object
	index       *spatial.Index[*Object]
}

func NewWorld(id uint32, region spatial.Square, fullLimit int) *World {
	return &World{
		ID:           id,
		WorldUUID:    uuid.New().String(),
		participants: make(map[uint32]*Participant),
		objects:      make(map[uint32]*Object),
		index:        spatial.NewIndex[*Object](region, fullLimit),
	}
}

// Region returns the square managed by the world's spatial index.
func (w *World) Region() spatial.Square {
	return w.index.Square()
}

func (w *World) NewParticipantID() uint32 {
	return w.participantIDs.New()
}

func (w *World) AddParticipant(p *Participant) {
	w.participantMutex.Lock()
	defer w.participantMutex.Unlock()

	w.participants[p.ID] = p
}

func (w *World) RemoveParticipant(p *Participant) {
	w.participantMutex.Lock()
	defer w.participantMutex.Unlock()

	delete(w.participants, p.ID)
	w.participantIDs.Reuse(p.ID)
}

func (w *World) GetParticipants() []*Participant {
	w.participantMutex.RLock()
	defer w.participantMutex.RUnlock()

	participants := make([]*Participant, 0, len(w.participants))
	for _, p := range w.participants {
		participants = append(participants, p)
	}
	return participants
}

func (w *World) ParticipantCount() int {
	w.participantMutex.RLock()
	defer w.participantMutex.RUnlock()

	return len(w.participants)
}

// Broadcast sends msg to every participant but the sender.
func (w *World) Broadcast(sender *Participant, msg any) {
	w.participantMutex.RLock()
	defer w.participantMutex.RUnlock()

	for _, p := range w.participants {
		if p == sender {
			continue
		}
		p.Responder.Send(msg)
	}
}

func (w *World) NewObjectID() uint32 {
	return w.objectIDs.New()
}

// AddObject registers o in the world and in its spatial index.
func (w *World) AddObject(o *Object) {
	w.objectMutex.Lock()
	defer w.objectMutex.Unlock()

	w.objects[o.ID] = o
	w.index.Insert(o)
	instrumentObjectAdded()
}

// RemoveObject deregisters o. It returns an error when o is not registered.
func (w *World) RemoveObject(o *Object) error {
	w.objectMutex.Lock()
	defer w.objectMutex.Unlock()

	if err := w.index.Remove(o); err != nil {
		return err
	}
	delete(w.objects, o.ID)
	w.objectIDs.Reuse(o.ID)
	instrumentObjectRemoved()
	return nil
}

// MoveObject gives o a new pose. The object is pulled out of the spatial
// index before the mutation and re-inserted after, since the index routes by
// the position an object had when it was inserted.
func (w *World) MoveObject(o *Object, pose Pose) error {
	w.objectMutex.Lock()
	defer w.objectMutex.Unlock()

	if err := w.index.Remove(o); err != nil {
		return err
	}
	o.SetPose(pose)
	w.index.Insert(o)
	return nil
}

func (w *World) ObjectByID(id uint32) (*Object, bool) {
	w.objectMutex.RLock()
	defer w.objectMutex.RUnlock()

	o, ok := w.objects[id]
	return o, ok
}

func (w *World) Objects() []*Object {
	w.objectMutex.RLock()
	defer w.objectMutex.RUnlock()

	objects := make([]*Object, 0, len(w.objects))
	for _, o := range w.objects {
		objects = append(objects, o)
	}
	return objects
}

func (w *World) ObjectCount() int {
	w.objectMutex.RLock()
	defer w.objectMutex.RUnlock()

	return len(w.objects)
}

// ObjectsInRegion returns every object whose footprint intersects the query
// square.
func (w *World) ObjectsInRegion(query spatial.Square) []*Object {
	w.objectMutex.RLock()
	defer w.objectMutex.RUnlock()

	var objects []*Object
	for o := range w.index.ObjectsInSquare(query) {
		objects = append(objects, o)
	}
	return objects
}

// IndexStats returns the shape of the world's spatial index.
func (w *World) IndexStats() spatial.Stats {
	w.objectMutex.RLock()
	defer w.objectMutex.RUnlock()

	return w.index.Stats()
}

// DumpIndex returns a human-readable dump of the world's spatial index.
func (w *World) DumpIndex() string {
	w.objectMutex.RLock()
	defer w.objectMutex.RUnlock()

	return w.index.Dump()
}

// WorldStore holds the worlds served by this server and the index settings
// new worlds are created with.
type WorldStore struct {
	// The id attributed to the current server, used to build world ids
	// that are unique across servers.
	ServerID string

	// The region and per-node object threshold given to new worlds.
	Region        spatial.Square
	NodeFullLimit int

	initOnce sync.Once
	mutex    sync.RWMutex
	worlds   map[string]*World
	ids      SequentialIDGenerator
}

func (s *WorldStore) init() {
	s.worlds = map[string]*World{}

	if s.ServerID == "" {
		s.ServerID = "midgard"
	}
}

func (s *WorldStore) New() *World {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	world := NewWorld(s.ids.New(), s.Region, s.NodeFullLimit)
	s.worlds[s.GlobalWorldID(world.ID)] = world

	instrumentWorldAdded()
	return world
}

func (s *WorldStore) Remove(world *World) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.worlds, s.GlobalWorldID(world.ID))
	s.ids.Reuse(world.ID)

	instrumentWorldRemoved()
}

func (s *WorldStore) GetByGlobalID(v string) (*World, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	world, ok := s.worlds[v]
	return world, ok
}

func (s *WorldStore) GlobalWorldID(worldID uint32) string {
	s.initOnce.Do(s.init)

	return fmt.Sprintf("%sx%x", s.ServerID, worldID)
}
