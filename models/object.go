package models

import (
	"sync"

	"github.com/midgardlabs/midgard/spatial"
)

// Object is a positioned world object tracked by a world's spatial index.
type Object struct {
	ID            uint32
	ParticipantID uint32
	Persist       bool

	mutex  sync.RWMutex
	pose   Pose
	bounds spatial.Sphere
}

// SetPose sets the object's pose. The pose must not change while the object
// is registered in a spatial index; World.MoveObject deregisters, mutates
// and re-registers.
func (o *Object) SetPose(v Pose) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.pose = v
}

func (o *Object) Pose() Pose {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	return o.pose
}

// SetBounds sets the object's bounding sphere. Like the pose, it must stay
// stable while the object is registered in a spatial index.
func (o *Object) SetBounds(v spatial.Sphere) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.bounds = v
}

// Position returns the object's position in world space.
func (o *Object) Position() spatial.Vec3 {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	return spatial.NewVec3(o.pose.PX, o.pose.PY, o.pose.PZ)
}

// Bounds returns the object's bounding sphere, relative to its position.
func (o *Object) Bounds() spatial.Sphere {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	return o.bounds
}

// State returns a snapshot of the object suitable for responses and
// broadcasts.
func (o *Object) State() ObjectState {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	return ObjectState{
		ID:            o.ID,
		ParticipantID: o.ParticipantID,
		Pose:          o.pose,
		Bounds:        o.bounds,
	}
}

func ObjectStates(objects []*Object) []ObjectState {
	states := make([]ObjectState, len(objects))
	for i, o := range objects {
		states[i] = o.State()
	}
	return states
}

// ObjectState is the wire representation of an object.
type ObjectState struct {
	ID            uint32         `json:"id"`
	ParticipantID uint32         `json:"participant_id"`
	Pose          Pose           `json:"pose"`
	Bounds        spatial.Sphere `json:"bounds"`
}

// Pose is a position and a rotation quaternion.
type Pose struct {
	PX float32 `json:"px"`
	PY float32 `json:"py"`
	PZ float32 `json:"pz"`
	RX float32 `json:"rx"`
	RY float32 `json:"ry"`
	RZ float32 `json:"rz"`
	RW float32 `json:"rw"`
}
