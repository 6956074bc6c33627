package filter

/*
Here the Env used in the room filter expressions of the admin CLI is defined.
Timestamps are unix seconds, 0 if unset. Renaming properties breaks existing scripts.
*/

type Identity struct {
	Identity string
	Name     string
	Role     string
}

type Room struct {
	Name         string
	CreatedBy    Identity
	Host         string
	HasHost      bool
	CreatedAt    int64
	EmptySince   int64
	LastActiveAt int64
}

type Env struct {
	Room
	Now int64

	// IdleFor returns the seconds the room has been empty, 0 if it is not.
	IdleFor func() int64
}
