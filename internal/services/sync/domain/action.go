// Package domain holds the offline sync model: queued actions, the entities
// they target, and the rules for applying them to a local mirror.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Action names one mutating dashboard operation.
type Action string

const (
	ActionAddAnimal            Action = "add_animal"
	ActionUpdateAnimal         Action = "update_animal"
	ActionDeleteAnimal         Action = "delete_animal"
	ActionAddWorker            Action = "add_worker"
	ActionUpdateWorker         Action = "update_worker"
	ActionAddInfrastructure    Action = "add_infrastructure"
	ActionUpdateInfrastructure Action = "update_infrastructure"
	ActionUploadPhoto          Action = "upload_photo"
)

// Entity names one mirrored collection.
type Entity string

const (
	EntityAnimals        Entity = "animals"
	EntityWorkers        Entity = "workers"
	EntityInfrastructure Entity = "infrastructure"
	EntityPhotos         Entity = "photos"
)

// Op is the mutation an action performs on its entity.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type target struct {
	entity Entity
	op     Op
}

var actionTargets = map[Action]target{
	ActionAddAnimal:            {EntityAnimals, OpAdd},
	ActionUpdateAnimal:         {EntityAnimals, OpUpdate},
	ActionDeleteAnimal:         {EntityAnimals, OpDelete},
	ActionAddWorker:            {EntityWorkers, OpAdd},
	ActionUpdateWorker:         {EntityWorkers, OpUpdate},
	ActionAddInfrastructure:    {EntityInfrastructure, OpAdd},
	ActionUpdateInfrastructure: {EntityInfrastructure, OpUpdate},
	ActionUploadPhoto:          {EntityPhotos, OpAdd},
}

// Actions lists every known action in a stable order.
func Actions() []Action {
	return []Action{
		ActionAddAnimal,
		ActionUpdateAnimal,
		ActionDeleteAnimal,
		ActionAddWorker,
		ActionUpdateWorker,
		ActionAddInfrastructure,
		ActionUpdateInfrastructure,
		ActionUploadPhoto,
	}
}

// ParseAction resolves an action name.
func ParseAction(value string) (Action, error) {
	action := Action(strings.TrimSpace(value))
	if _, ok := actionTargets[action]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
	return action, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionTargets[a]
	return ok
}

// Entity returns the collection a mutates.
func (a Action) Entity() Entity {
	return actionTargets[a].entity
}

// Op returns the mutation a performs.
func (a Action) Op() Op {
	return actionTargets[a].op
}

// Entities lists every mirrored collection in a stable order.
func Entities() []Entity {
	return []Entity{EntityAnimals, EntityWorkers, EntityInfrastructure, EntityPhotos}
}

// ParseEntity resolves a collection name.
func ParseEntity(value string) (Entity, error) {
	entity := Entity(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Entities() {
		if entity == known {
			return entity, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, value)
}

// QueuedAction is one mutation recorded while offline, waiting to be
// replayed.
type QueuedAction struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	Payload    Record    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// Clone returns a copy whose payload can be mutated independently.
func (qa QueuedAction) Clone() QueuedAction {
	clone := qa
	clone.Payload = qa.Payload.Clone()
	return clone
}
