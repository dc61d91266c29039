package supervisor

// RestartContext is handed to a RestartStrategy when a child has failed.
type RestartContext struct {
	FailedChild string
	Reason      error
	Siblings    []string // spawn order, for OneForAll reverse-stop semantics
}

// Decision is a strategy's verdict: either restart a specific set of
// children (in the order given) or stop the supervisor entirely.
type Decision struct {
	Restart []string
	Stop    bool
}

// RestartStrategy is a replaceable decision object consulted on child failure.
type RestartStrategy interface {
	Decide(rc RestartContext) Decision
}

// OneForOne restarts only the child that failed.
type OneForOne struct{}

func (OneForOne) Decide(rc RestartContext) Decision {
	return Decision{Restart: []string{rc.FailedChild}}
}

// OneForAll stops every sibling in reverse spawn order, then restarts all of
// them (including the one that failed).
type OneForAll struct{}

func (OneForAll) Decide(rc RestartContext) Decision {
	restart := make([]string, len(rc.Siblings))
	copy(restart, rc.Siblings)
	return Decision{Restart: restart}
}
