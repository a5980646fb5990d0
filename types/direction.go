package types

import (
	"fmt"
)

// Direction is the slot a segment was assigned to within a connection.
// Forward belongs to the first source address seen.
type Direction int8

const (
	DirectionForward  Direction = 0
	DirectionBackward Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	default:
		return fmt.Sprintf("unknown(%d)", int(d))
	}
}

// Other returns the opposite direction.
func (d Direction) Other() Direction {
	if d == DirectionForward {
		return DirectionBackward
	}
	return DirectionForward
}
